// Package tui renders one live resource list in the terminal.
package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/fetcher"
	"github.com/tkingovr/adminsync/internal/query"
	"github.com/tkingovr/adminsync/internal/view"
)

// NoticeSource supplies transient notifications. *notify.Hub satisfies it.
type NoticeSource interface {
	Active() []api.Notice
	Subscribe() (<-chan api.Notice, func())
}

const (
	tickInterval = time.Second
	maxColumns   = 6
	columnWidth  = 18
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	alertStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cellStyle    = lipgloss.NewStyle().Width(columnWidth).MaxWidth(columnWidth).PaddingRight(1)
)

type storeChangedMsg struct{}

type alertMsg struct{ event api.AlertEvent }

type noticeMsg struct{ notice api.Notice }

type fetchedMsg struct{ outcome fetcher.Outcome }

type tickMsg time.Time

// Model is the bubbletea model of the watch view. The view must already
// be open; the model never closes it.
type Model struct {
	ctx     context.Context
	view    *view.View
	notices NoticeSource
	keys    KeyMap
	columns []string

	changes      <-chan query.Change
	alerts       <-chan api.AlertEvent
	noticeEvents <-chan api.Notice
	unsubscribe  []func()

	snapshot view.Snapshot
	active   []api.Notice

	searching bool
	input     string

	width int
}

// NewModel subscribes to v and, when notices is non-nil, to its
// notifications. Call Close once the program exits.
func NewModel(ctx context.Context, v *view.View, notices NoticeSource) Model {
	model := Model{
		ctx:     ctx,
		view:    v,
		notices: notices,
		keys:    DefaultKeyMap,
		columns: v.Def().Columns,
		width:   120,
	}
	var cancel func()
	model.changes, cancel = v.Store().Subscribe()
	model.unsubscribe = append(model.unsubscribe, cancel)
	if d := v.Detector(); d != nil {
		model.alerts, cancel = d.Subscribe()
		model.unsubscribe = append(model.unsubscribe, cancel)
	}
	if notices != nil {
		model.noticeEvents, cancel = notices.Subscribe()
		model.unsubscribe = append(model.unsubscribe, cancel)
	}
	model.sync()
	return model
}

// Close drops every subscription.
func (model Model) Close() {
	for _, cancel := range model.unsubscribe {
		cancel()
	}
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	commands := []tea.Cmd{listenForChange(model.changes), scheduleTick()}
	if model.alerts != nil {
		commands = append(commands, listenForAlert(model.alerts))
	}
	if model.noticeEvents != nil {
		commands = append(commands, listenForNotice(model.noticeEvents))
	}
	return tea.Batch(commands...)
}

func listenForChange(channel <-chan query.Change) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-channel; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

func listenForAlert(channel <-chan api.AlertEvent) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-channel
		if !ok {
			return nil
		}
		return alertMsg{event: event}
	}
}

func listenForNotice(channel <-chan api.Notice) tea.Cmd {
	return func() tea.Msg {
		notice, ok := <-channel
		if !ok {
			return nil
		}
		return noticeMsg{notice: notice}
	}
}

func scheduleTick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		if model.searching {
			return model.handleSearchKeys(message)
		}
		return model.handleKeys(message)

	case tea.WindowSizeMsg:
		model.width = message.Width
		return model, nil

	case storeChangedMsg:
		model.sync()
		return model, listenForChange(model.changes)

	case alertMsg:
		model.sync()
		return model, listenForAlert(model.alerts)

	case noticeMsg:
		model.sync()
		return model, listenForNotice(model.noticeEvents)

	case fetchedMsg:
		model.sync()
		return model, nil

	case tickMsg:
		model.sync()
		return model, scheduleTick()
	}
	return model, nil
}

func (model Model) handleKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit
	case key.Matches(message, model.keys.NextPage):
		return model, model.gotoPage(model.snapshot.Params.Page + 1)
	case key.Matches(message, model.keys.PrevPage):
		return model, model.gotoPage(model.snapshot.Params.Page - 1)
	case key.Matches(message, model.keys.FirstPage):
		return model, model.gotoPage(1)
	case key.Matches(message, model.keys.Refresh):
		v, ctx := model.view, model.ctx
		return model, func() tea.Msg { return fetchedMsg{outcome: v.Refresh(ctx)} }
	case key.Matches(message, model.keys.SearchActivate):
		model.searching = true
		model.input = model.snapshot.Params.Search
		return model, nil
	case key.Matches(message, model.keys.SearchClear):
		if model.snapshot.Params.Search == "" {
			return model, nil
		}
		return model, model.applySearch("")
	}
	return model, nil
}

// handleSearchKeys edits the search line. Enter applies it, Esc leaves
// search mode without touching the current filter.
func (model Model) handleSearchKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch message.Type {
	case tea.KeyCtrlC:
		return model, tea.Quit
	case tea.KeyEsc:
		model.searching = false
		model.input = ""
		return model, nil
	case tea.KeyEnter:
		model.searching = false
		term := strings.TrimSpace(model.input)
		model.input = ""
		return model, model.applySearch(term)
	case tea.KeyBackspace:
		if runes := []rune(model.input); len(runes) > 0 {
			model.input = string(runes[:len(runes)-1])
		}
		return model, nil
	case tea.KeyRunes, tea.KeySpace:
		model.input += string(message.Runes)
		return model, nil
	}
	return model, nil
}

func (model Model) gotoPage(n int) tea.Cmd {
	if n < 1 || n > max(model.snapshot.Page.TotalPages, 1) || n == model.snapshot.Params.Page {
		return nil
	}
	v, ctx := model.view, model.ctx
	return func() tea.Msg {
		out, _ := v.SetPage(ctx, n)
		return fetchedMsg{outcome: out}
	}
}

func (model Model) applySearch(term string) tea.Cmd {
	v, ctx := model.view, model.ctx
	return func() tea.Msg {
		out, _ := v.SetFilter(ctx, query.Search(term))
		return fetchedMsg{outcome: out}
	}
}

func (model *Model) sync() {
	model.snapshot = model.view.Snapshot()
	if model.notices != nil {
		model.active = model.notices.Active()
	}
}

// View implements tea.Model.
func (model Model) View() string {
	var b strings.Builder
	snap := model.snapshot

	b.WriteString(titleStyle.Render(snap.Title))
	pages := max(snap.Page.TotalPages, 1)
	fmt.Fprintf(&b, "  page %d/%d  %d total", snap.Params.Page, pages, snap.Page.TotalCount)
	if snap.Params.Search != "" {
		fmt.Fprintf(&b, "  search %q", snap.Params.Search)
	}
	if snap.Loading {
		b.WriteString(mutedStyle.Render("  loading..."))
	}
	b.WriteString("\n")

	if line := model.counterLine(); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if snap.Error != "" {
		b.WriteString(errorStyle.Render(snap.Error))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(model.renderTable())

	for _, n := range model.active {
		b.WriteString("\n")
		b.WriteString(renderNotice(n))
	}

	b.WriteString("\n\n")
	if model.searching {
		b.WriteString("/" + model.input + "█")
	} else {
		b.WriteString(model.renderHelp())
	}
	return b.String()
}

// counterLine shows every counter. Counters with an active alert are
// highlighted and marked.
func (model Model) counterLine() string {
	snap := model.snapshot
	if len(snap.Counters) == 0 {
		return ""
	}
	parts := make([]string, 0, len(snap.Counters))
	for _, k := range snap.Counters.Keys() {
		text := fmt.Sprintf("%s %d", k, snap.Counters[k])
		if snap.Alerts[k].Active {
			parts = append(parts, alertStyle.Render(text+" ▲"))
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "  ")
}

func (model Model) renderTable() string {
	items := model.snapshot.Page.Items
	if len(items) == 0 {
		return mutedStyle.Render("No records")
	}
	columns := model.tableColumns()
	var rows []string

	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = cellStyle.Render(headerStyle.Render(col))
	}
	rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, header...))

	for _, item := range items {
		cells := make([]string, len(columns))
		for i, col := range columns {
			value := item.Field(col)
			if col == "id" && value == "" {
				value = item.ID
			}
			cells[i] = cellStyle.Render(truncate(value, columnWidth-1))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return strings.Join(rows, "\n")
}

// tableColumns returns the configured columns, or the id followed by the
// first item's other fields in name order.
func (model Model) tableColumns() []string {
	limit := max(model.width/(columnWidth+1), 1)
	if len(model.columns) > 0 {
		return model.columns[:min(len(model.columns), limit)]
	}
	cols := []string{"id"}
	items := model.snapshot.Page.Items
	if len(items) == 0 {
		return cols
	}
	var keys []string
	for k := range items[0].Fields {
		if k == "id" || k == "_id" {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	cols = append(cols, keys...)
	return cols[:min(len(cols), maxColumns, limit)]
}

func (model Model) renderHelp() string {
	var parts []string
	for _, binding := range model.keys.ShortHelp() {
		help := binding.Help()
		parts = append(parts, help.Key+" "+help.Desc)
	}
	return mutedStyle.Render(strings.Join(parts, " · "))
}

func renderNotice(n api.Notice) string {
	switch n.Level {
	case api.NoticeError:
		return errorStyle.Render("✗ " + n.Message)
	case api.NoticeSuccess:
		return successStyle.Render("✓ " + n.Message)
	default:
		return "• " + n.Message
	}
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}
