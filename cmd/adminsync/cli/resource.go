package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tkingovr/adminsync/api"
	"github.com/tkingovr/adminsync/internal/backend"
	"github.com/tkingovr/adminsync/internal/export"
	"github.com/tkingovr/adminsync/internal/mutation"
	"github.com/tkingovr/adminsync/internal/query"
	"github.com/tkingovr/adminsync/internal/view"
)

var (
	listPage    int
	listSearch  string
	listStatus  string
	listFilters []string
	listOutput  string

	mutationPayload string
	mutationID      string
	deleteYes       bool

	exportOutput string
)

var listCmd = &cobra.Command{
	Use:   "list <resource>",
	Short: "Print one page of a resource list",
	Example: `  adminsync list orders -c adminsync.yaml --status pending --page 2
  adminsync list vendors -c adminsync.yaml --search acme -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

var createCmd = &cobra.Command{
	Use:     "create <resource>",
	Short:   "Create a resource from a JSON payload",
	Example: `  adminsync create coupons -c adminsync.yaml --payload '{"code":"SPRING10","discount":10}'`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCreate,
}

var updateCmd = &cobra.Command{
	Use:     "update <resource> <id>",
	Short:   "Update a resource from a JSON payload",
	Example: `  adminsync update vendors ven-3 -c adminsync.yaml --payload '{"phone":"555-0101"}'`,
	Args:    cobra.ExactArgs(2),
	RunE:    runUpdate,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <resource> <id>",
	Short: "Delete a resource",
	Long: `Delete one resource. For resources with confirm_delete the command
asks on stdin first unless --yes is given.`,
	Example: `  adminsync delete vendors ven-3 -c adminsync.yaml --yes`,
	Args:    cobra.ExactArgs(2),
	RunE:    runDelete,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <resource> <field> <file>...",
	Short: "Upload files and attach their paths to a field",
	Long: `Upload files to the backend's upload endpoint. Without --id or
--payload the stored paths are printed. With --id the item is updated
with the paths in <field>; with only --payload a new item is created.`,
	Example: `  adminsync upload products images front.jpg back.jpg -c adminsync.yaml --id pro-7`,
	Args:    cobra.MinimumNArgs(3),
	RunE:    runUpload,
}

var exportCmd = &cobra.Command{
	Use:   "export <resource>",
	Short: "Export one page of a resource list as PDF",
	Example: `  adminsync export orders -c adminsync.yaml --status pending -o pending.pdf`,
	Args:    cobra.ExactArgs(1),
	RunE:    runExport,
}

func init() {
	for _, cmd := range []*cobra.Command{listCmd, exportCmd} {
		cmd.Flags().IntVar(&listPage, "page", 1, "page number")
		cmd.Flags().StringVar(&listSearch, "search", "", "free-text search")
		cmd.Flags().StringVar(&listStatus, "status", "", "status filter")
		cmd.Flags().StringArrayVar(&listFilters, "filter", nil, "kind-specific filter as key=value (repeatable)")
	}
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "output format: table or json")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default <resource>-page<N>-<time>.pdf)")

	createCmd.Flags().StringVar(&mutationPayload, "payload", "", "JSON object of fields")
	_ = createCmd.MarkFlagRequired("payload")
	updateCmd.Flags().StringVar(&mutationPayload, "payload", "", "JSON object of fields")
	_ = updateCmd.MarkFlagRequired("payload")
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "skip the confirmation prompt")
	uploadCmd.Flags().StringVar(&mutationID, "id", "", "item to update with the uploaded paths")
	uploadCmd.Flags().StringVar(&mutationPayload, "payload", "", "JSON object of other fields")

	rootCmd.AddCommand(listCmd, createCmd, updateCmd, deleteCmd, uploadCmd, exportCmd)
}

// openResource loads the config and returns the named view. Nothing is
// fetched and no polling starts.
func openResource(cmd string, name string, confirmer mutation.Confirmer) (*app, *view.View, error) {
	cfg, err := requireConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(cfg, confirmer)
	if err != nil {
		return nil, nil, err
	}
	v, err := a.view(name)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, v, nil
}

// loadPage applies the list flags and reads the requested page.
func loadPage(ctx context.Context, v *view.View) error {
	patches := []query.Patch{query.Search(listSearch), query.Status(listStatus)}
	for _, f := range listFilters {
		k, val, ok := strings.Cut(f, "=")
		if !ok {
			return fmt.Errorf("invalid filter %q: want key=value", f)
		}
		patches = append(patches, query.Filter(k, val))
	}
	v.Store().SetFilter(patches...)

	if out := v.Fetch(ctx); out.Err != nil {
		return out.Err
	}
	if listPage > 1 {
		out, moved := v.SetPage(ctx, listPage)
		if !moved {
			return fmt.Errorf("page %d out of range (1-%d)", listPage, max(v.Store().Page().TotalPages, 1))
		}
		if out.Err != nil {
			return out.Err
		}
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, v, err := openResource("list", args[0], nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := loadPage(cmd.Context(), v); err != nil {
		return fmt.Errorf("listing %s: %s", args[0], api.UserMessage(err))
	}

	snap := v.Snapshot()
	if listOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return writeTable(os.Stdout, snap, v.Def().Columns)
}

func writeTable(w io.Writer, snap view.Snapshot, columns []string) error {
	if len(columns) == 0 {
		columns = itemKeys(snap.Page.Items)
	}
	columns = append([]string{"id"}, slices.DeleteFunc(slices.Clone(columns), func(c string) bool { return c == "id" })...)

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, strings.ToUpper(strings.Join(columns, "\t")))
	for _, item := range snap.Page.Items {
		row := make([]string, len(columns))
		for i, c := range columns {
			if c == "id" {
				row[i] = item.ID
				continue
			}
			row[i] = item.Field(c)
		}
		fmt.Fprintln(writer, strings.Join(row, "\t"))
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\npage %d/%d  %d total\n", snap.Params.Page, max(snap.Page.TotalPages, 1), snap.Page.TotalCount)
	return nil
}

func itemKeys(items []api.Resource) []string {
	seen := make(map[string]bool)
	for _, item := range items {
		for k := range item.Fields {
			if k != "id" && k != "_id" {
				seen[k] = true
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

func parsePayload() (map[string]any, error) {
	payload := map[string]any{}
	if mutationPayload == "" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(mutationPayload), &payload); err != nil {
		return nil, fmt.Errorf("invalid --payload: %w", err)
	}
	return payload, nil
}

func printResult(res *mutation.Result) error {
	out := struct {
		Outcome api.Outcome   `json:"outcome"`
		Message string        `json:"message,omitempty"`
		Item    *api.Resource `json:"item,omitempty"`
	}{
		Outcome: res.Outcome,
		Message: res.Message,
		Item:    res.Item,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// mutationError turns a coordinator error into the message the user
// would have seen as a notice.
func mutationError(err error) error {
	if errors.Is(err, mutation.ErrNotConfirmed) {
		return err
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return errors.New(api.UserMessage(err))
	}
	return err
}

func runCreate(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload()
	if err != nil {
		return err
	}
	a, v, err := openResource("create", args[0], nil)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := v.Coordinator().Create(cmd.Context(), payload)
	if err != nil {
		return mutationError(err)
	}
	return printResult(res)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload()
	if err != nil {
		return err
	}
	a, v, err := openResource("update", args[0], nil)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := v.Coordinator().Update(cmd.Context(), args[1], payload)
	if err != nil {
		return mutationError(err)
	}
	return printResult(res)
}

func runDelete(cmd *cobra.Command, args []string) error {
	confirmer := stdinConfirmer{in: os.Stdin, out: os.Stderr, yes: deleteYes}
	a, v, err := openResource("delete", args[0], confirmer)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := v.Coordinator().Remove(cmd.Context(), args[1])
	if err != nil {
		return mutationError(err)
	}
	return printResult(res)
}

func runUpload(cmd *cobra.Command, args []string) error {
	resource, field, paths := args[0], args[1], args[2:]
	payload, err := parsePayload()
	if err != nil {
		return err
	}

	files := make([]backend.UploadFile, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("opening %s: %w", p, err)
		}
		defer f.Close()
		files = append(files, backend.UploadFile{Name: filepath.Base(p), Content: f})
	}

	a, v, err := openResource("upload", resource, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	coord := v.Coordinator()
	if mutationID != "" {
		coord.Edit(mutationID, payload)
	} else {
		for k, val := range payload {
			coord.Set(k, val)
		}
	}
	stored, err := coord.Attach(cmd.Context(), field, files)
	if err != nil {
		return mutationError(err)
	}
	if mutationID == "" && mutationPayload == "" {
		for _, p := range stored {
			fmt.Println(a.client.AssetURL(p))
		}
		return nil
	}

	res, err := coord.Submit(cmd.Context())
	if err != nil {
		return mutationError(err)
	}
	return printResult(res)
}

func runExport(cmd *cobra.Command, args []string) error {
	a, v, err := openResource("export", args[0], nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := loadPage(cmd.Context(), v); err != nil {
		return fmt.Errorf("exporting %s: %s", args[0], api.UserMessage(err))
	}

	snap := v.Snapshot()
	now := time.Now()
	name := exportOutput
	if name == "" {
		name = export.Filename(v.Name(), snap.Params.Page, now)
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	defer f.Close()

	err = export.WritePDF(f, export.Table{
		Title:       v.Def().Title,
		Columns:     v.Def().Columns,
		Params:      snap.Params,
		Page:        snap.Page,
		GeneratedAt: now,
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	logger.Info("page exported", "resource", v.Name(), "page", snap.Params.Page, "file", name)
	return nil
}

// stdinConfirmer asks on the terminal before a delete.
type stdinConfirmer struct {
	in  io.Reader
	out io.Writer
	yes bool
}

func (c stdinConfirmer) Confirm(_ context.Context, _, _, message string) (bool, error) {
	if c.yes {
		return true, nil
	}
	fmt.Fprintf(c.out, "%s [y/N]: ", message)
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
