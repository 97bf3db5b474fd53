package dashboard

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/tkingovr/adminsync/api"
)

var funcMap = template.FuncMap{
	"upper":        strings.ToUpper,
	"field":        func(r api.Resource, name string) string { return r.Field(name) },
	"outcomeColor": outcomeColor,
	"noticeColor":  noticeColor,
	"add":          func(a, b int) int { return a + b },
	"value": func(r *api.Resource, name string) string {
		if r == nil {
			return ""
		}
		return r.Field(name)
	},
	"draftValue": func(values map[string]any, name string) string {
		v, ok := values[name]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	},
}

var pageTmpls = map[string]*template.Template{
	"overview":      template.Must(template.New("overview").Funcs(funcMap).Parse(navHTML + noticesHTML + overviewHTML)),
	"resource":      template.Must(template.New("resource").Funcs(funcMap).Parse(navHTML + noticesHTML + resourceHTML)),
	"confirmations": template.Must(template.New("confirmations").Funcs(funcMap).Parse(navHTML + noticesHTML + confirmationsHTML)),
	"history":       template.Must(template.New("history").Funcs(funcMap).Parse(navHTML + noticesHTML + historyHTML)),
	"config":        template.Must(template.New("config").Funcs(funcMap).Parse(navHTML + noticesHTML + configHTML)),
}

func renderPage(w http.ResponseWriter, name string, data map[string]any) {
	tmpl, ok := pageTmpls[name]
	if !ok {
		http.Error(w, "unknown page: "+name, http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

const navHTML = `{{define "nav"}}
<nav class="bg-gray-900 border-b border-gray-700 px-6 py-4">
    <div class="flex items-center justify-between max-w-7xl mx-auto">
        <div class="flex items-center space-x-2">
            <span class="text-xl font-bold text-white">AdminSync</span>
            <span class="text-xs bg-gray-700 text-gray-300 px-2 py-1 rounded">Dashboard</span>
        </div>
        <div class="flex space-x-4">
            <a href="/" class="px-3 py-2 rounded hover:bg-gray-800 {{if eq .Page "overview"}}bg-gray-800 text-white{{else}}text-gray-400{{end}}">Overview</a>
            <a href="/history" class="px-3 py-2 rounded hover:bg-gray-800 {{if eq .Page "history"}}bg-gray-800 text-white{{else}}text-gray-400{{end}}">History</a>
            <a href="/confirmations" class="px-3 py-2 rounded hover:bg-gray-800 {{if eq .Page "confirmations"}}bg-gray-800 text-white{{else}}text-gray-400{{end}}">Confirmations</a>
            <a href="/config" class="px-3 py-2 rounded hover:bg-gray-800 {{if eq .Page "config"}}bg-gray-800 text-white{{else}}text-gray-400{{end}}">Config</a>
        </div>
    </div>
</nav>
{{end}}`

const noticesHTML = `{{define "notices"}}
{{if .Notices}}
<div class="fixed top-20 right-6 space-y-2 w-80 z-10">
    {{range .Notices}}
    <div class="bg-gray-900 border rounded-lg p-3 flex justify-between items-start {{noticeColor .Level}}">
        <span class="text-sm">{{.Message}}</span>
        <form method="post" action="/notices/{{.ID}}/dismiss"><button class="text-gray-500 hover:text-white text-xs ml-2">&times;</button></form>
    </div>
    {{end}}
</div>
{{end}}
{{end}}`

const headHTML = `<!DOCTYPE html>
<html lang="en" class="dark">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>AdminSync Dashboard</title>
    <script src="https://cdn.tailwindcss.com"></script>
    <script src="https://unpkg.com/htmx.org@2.0.4"></script>
    <script src="https://unpkg.com/htmx-ext-sse@2.2.2/sse.js"></script>
    <style>body { background-color: #0f172a; color: #e2e8f0; }</style>
</head>
<body class="min-h-screen">
{{template "nav" .}}
{{template "notices" .}}
<main class="max-w-7xl mx-auto px-6 py-8">`

const footHTML = `</main>
</body>
</html>`

const overviewHTML = headHTML + `
<h1 class="text-2xl font-bold mb-6">Overview</h1>
<div class="grid grid-cols-1 md:grid-cols-3 gap-6 mb-8">
    {{range .Views}}
    <a href="/resources/{{.Resource}}" class="block bg-gray-900 border border-gray-700 rounded-lg p-6 hover:border-gray-500">
        <div class="flex justify-between items-center mb-2">
            <span class="text-lg font-bold text-white">{{.Title}}</span>
            <span class="text-gray-400 text-sm">{{.Page.TotalCount}} total</span>
        </div>
        {{$alerts := .Alerts}}
        {{range $name, $value := .Counters}}
        <div class="flex justify-between py-1 border-b border-gray-800">
            <span class="text-gray-300 text-sm">{{$name}}</span>
            {{if (index $alerts $name).Active}}<span class="px-2 rounded font-bold bg-yellow-500 text-black animate-pulse">{{$value}}</span>{{else}}<span class="text-gray-400">{{$value}}</span>{{end}}
        </div>
        {{end}}
        {{if .Error}}<div class="text-red-400 text-xs mt-2">{{.Error}}</div>{{end}}
    </a>
    {{else}}
    <p class="text-gray-500">No resources configured</p>
    {{end}}
</div>
<div class="grid grid-cols-1 md:grid-cols-5 gap-6">
    <div class="bg-gray-900 border border-gray-700 rounded-lg p-6">
        <div class="text-gray-400 text-sm mb-1">Mutations</div>
        <div class="text-3xl font-bold text-white">{{.Stats.Total}}</div>
    </div>
    <div class="bg-gray-900 border border-green-900 rounded-lg p-6">
        <div class="text-green-400 text-sm mb-1">Succeeded</div>
        <div class="text-3xl font-bold text-green-300">{{.Stats.Successes}}</div>
    </div>
    <div class="bg-gray-900 border border-red-900 rounded-lg p-6">
        <div class="text-red-400 text-sm mb-1">Failed</div>
        <div class="text-3xl font-bold text-red-300">{{.Stats.Failures}}</div>
    </div>
    <div class="bg-gray-900 border border-yellow-900 rounded-lg p-6">
        <div class="text-yellow-400 text-sm mb-1">Rejected</div>
        <div class="text-3xl font-bold text-yellow-300">{{.Stats.Invalid}}</div>
    </div>
    <a href="/confirmations" class="bg-gray-900 border border-blue-900 rounded-lg p-6">
        <div class="text-blue-400 text-sm mb-1">Awaiting Confirmation</div>
        <div class="text-3xl font-bold text-blue-300">{{.Pending}}</div>
    </a>
</div>
` + footHTML

const resourceHTML = headHTML + `
{{$def := .Def}}{{$columns := .Columns}}{{$view := .View}}
<div class="flex justify-between items-center mb-6">
    <h1 class="text-2xl font-bold">{{.View.Title}}</h1>
    <div class="flex space-x-2">
        <form method="post" action="/resources/{{$def.Name}}/refresh"><button class="px-3 py-2 bg-gray-700 hover:bg-gray-600 rounded text-sm">Refresh</button></form>
        <a href="/resources/{{$def.Name}}/export.pdf" class="px-3 py-2 bg-gray-700 hover:bg-gray-600 rounded text-sm">Export PDF</a>
    </div>
</div>
{{if .View.Counters}}
<div class="flex space-x-4 mb-4">
    {{range $name, $value := .View.Counters}}
    <span class="px-3 py-1 rounded text-sm {{if (index $view.Alerts $name).Active}}bg-yellow-500 text-black font-bold animate-pulse{{else}}bg-gray-800{{end}}">{{$name}}: {{$value}}</span>
    {{end}}
</div>
{{end}}
<form method="get" action="/resources/{{$def.Name}}" class="flex flex-wrap gap-2 mb-4">
    <input name="search" value="{{.View.Params.Search}}" placeholder="Search" class="bg-gray-800 border border-gray-700 rounded px-3 py-2 text-sm">
    <input name="status" value="{{.View.Params.Status}}" placeholder="Status" class="bg-gray-800 border border-gray-700 rounded px-3 py-2 text-sm w-32">
    {{range $def.Filters}}
    <input name="{{.}}" value="{{index $view.Params.Filters .}}" placeholder="{{.}}" class="bg-gray-800 border border-gray-700 rounded px-3 py-2 text-sm w-32">
    {{end}}
    <button class="px-3 py-2 bg-blue-700 hover:bg-blue-600 rounded text-sm">Apply</button>
</form>
{{if .View.Error}}<div class="bg-red-900 text-red-200 rounded p-3 mb-4 text-sm">{{.View.Error}}</div>{{end}}
<div class="bg-gray-900 border border-gray-700 rounded-lg overflow-hidden mb-4">
    <table class="w-full text-sm text-left">
        <thead class="bg-gray-800 text-gray-400 uppercase text-xs">
            <tr>
                <th class="px-4 py-3">ID</th>
                {{range $columns}}<th class="px-4 py-3">{{.}}</th>{{end}}
                <th class="px-4 py-3"></th>
            </tr>
        </thead>
        <tbody>
            {{range .View.Page.Items}}
            <tr class="border-b border-gray-700 hover:bg-gray-800">
                <td class="px-4 py-2 font-mono text-xs text-gray-400">{{.ID}}</td>
                {{$item := .}}{{range $columns}}<td class="px-4 py-2">{{field $item .}}</td>{{end}}
                <td class="px-4 py-2 flex space-x-2">
                    <a href="/resources/{{$def.Name}}?edit={{.ID}}" class="text-blue-400 text-xs">Edit</a>
                    <form method="post" action="/resources/{{$def.Name}}/{{.ID}}/delete"><button class="text-red-400 text-xs">Delete</button></form>
                </td>
            </tr>
            {{else}}
            <tr><td class="px-4 py-6 text-center text-gray-500" colspan="{{add (len $columns) 2}}">No records</td></tr>
            {{end}}
        </tbody>
    </table>
</div>
<div class="flex items-center space-x-2 mb-8 text-sm">
    <span class="text-gray-400">Page {{.View.Params.Page}} of {{len .Pages}} &middot; {{.View.Page.TotalCount}} total</span>
    {{range .Pages}}
    <a href="/resources/{{$def.Name}}?page={{.}}" class="px-2 py-1 rounded {{if eq . $view.Params.Page}}bg-blue-700 text-white{{else}}bg-gray-800 text-gray-400{{end}}">{{.}}</a>
    {{end}}
</div>
{{$editing := .Editing}}{{$draft := .Draft}}
<div class="bg-gray-900 border border-gray-700 rounded-lg p-6">
    <h2 class="text-lg font-bold mb-4">{{if $editing}}Edit {{$editing.ID}}{{else}}New {{.View.Title}}{{end}}</h2>
    <form method="post" enctype="multipart/form-data" action="/resources/{{$def.Name}}/{{if $editing}}{{$editing.ID}}/update{{else}}create{{end}}" class="grid grid-cols-1 md:grid-cols-2 gap-4">
        {{range .Fields}}
        <label class="text-sm text-gray-400">{{.}}
            <input name="{{.}}" value="{{if $editing}}{{value $editing .}}{{else}}{{draftValue $draft.Values .}}{{end}}" class="block w-full bg-gray-800 border border-gray-700 rounded px-3 py-2 text-white">
            {{with index $draft.Errors .}}<span class="text-red-400 text-xs">{{.}}</span>{{end}}
        </label>
        {{end}}
        {{if $def.AttachmentField}}
        <label class="text-sm text-gray-400">{{$def.AttachmentField}}
            <input type="file" name="{{$def.AttachmentField}}" multiple class="block w-full text-sm">
            {{with index $draft.Errors $def.AttachmentField}}<span class="text-red-400 text-xs">{{.}}</span>{{end}}
        </label>
        {{end}}
        <div class="md:col-span-2">
            <button class="px-4 py-2 bg-green-700 hover:bg-green-600 text-white rounded text-sm font-bold">{{if $editing}}Save{{else}}Create{{end}}</button>
            {{if $editing}}<a href="/resources/{{$def.Name}}" class="ml-2 text-gray-400 text-sm">Cancel</a>{{end}}
        </div>
    </form>
</div>
` + footHTML

const confirmationsHTML = headHTML + `
<h1 class="text-2xl font-bold mb-6">Confirmations</h1>
{{if .Pending}}
<div class="space-y-4 mb-8">
    {{range .Pending}}
    <div class="bg-gray-900 border border-yellow-700 rounded-lg p-6">
        <div class="flex justify-between items-start">
            <div>
                <div class="text-yellow-400 text-xs font-bold mb-2">AWAITING CONFIRMATION</div>
                <div class="text-white font-bold">{{.Message}}</div>
                <div class="text-gray-500 text-xs mt-2">{{.Resource}} / {{.TargetID}} | Waiting {{.Age}}</div>
            </div>
            <div class="flex space-x-2">
                <form method="post" action="/confirmations/{{.ID}}/approve"><button class="px-4 py-2 bg-red-700 hover:bg-red-600 text-white rounded text-sm font-bold">Delete</button></form>
                <form method="post" action="/confirmations/{{.ID}}/deny"><button class="px-4 py-2 bg-gray-700 hover:bg-gray-600 text-white rounded text-sm font-bold">Keep</button></form>
            </div>
        </div>
    </div>
    {{end}}
</div>
{{else}}
<div class="bg-gray-900 border border-gray-700 rounded-lg p-8 text-center text-gray-400 mb-8">
    Nothing awaiting confirmation
</div>
{{end}}
{{if .All}}
<div class="bg-gray-900 border border-gray-700 rounded-lg overflow-hidden">
    <table class="w-full text-sm text-left">
        <thead class="bg-gray-800 text-gray-400 uppercase text-xs">
            <tr><th class="px-4 py-3">Created</th><th class="px-4 py-3">Resource</th><th class="px-4 py-3">Item</th><th class="px-4 py-3">Status</th></tr>
        </thead>
        <tbody>
            {{range .All}}
            <tr class="border-b border-gray-700">
                <td class="px-4 py-2 text-gray-400 text-xs">{{.CreatedAt.Format "15:04:05"}}</td>
                <td class="px-4 py-2">{{.Resource}}</td>
                <td class="px-4 py-2 font-mono text-xs">{{.TargetID}}</td>
                <td class="px-4 py-2">{{upper (printf "%s" .Status)}}</td>
            </tr>
            {{end}}
        </tbody>
    </table>
</div>
{{end}}
` + footHTML

const historyHTML = headHTML + `
<div class="flex justify-between items-center mb-6">
    <h1 class="text-2xl font-bold">Mutation History</h1>
    <span class="text-sm text-gray-400">Live updates via SSE</span>
</div>
<div class="bg-gray-900 border border-gray-700 rounded-lg overflow-hidden">
    <table class="w-full text-sm text-left">
        <thead class="bg-gray-800 text-gray-400 uppercase text-xs">
            <tr>
                <th class="px-4 py-3">Time</th>
                <th class="px-4 py-3">Resource</th>
                <th class="px-4 py-3">Kind</th>
                <th class="px-4 py-3">Item</th>
                <th class="px-4 py-3">Outcome</th>
                <th class="px-4 py-3">Message</th>
            </tr>
        </thead>
        <tbody id="history-table"
               hx-ext="sse"
               sse-connect="/history/stream"
               sse-swap="history"
               hx-swap="afterbegin">
            {{range .Records}}
            <tr class="border-b border-gray-700 hover:bg-gray-800">
                <td class="px-4 py-2 text-gray-400 text-xs">{{.Timestamp.Format "15:04:05"}}</td>
                <td class="px-4 py-2">{{.Resource}}</td>
                <td class="px-4 py-2">{{.Kind}}</td>
                <td class="px-4 py-2 font-mono text-sm">{{.TargetID}}</td>
                <td class="px-4 py-2"><span class="px-2 py-1 rounded text-xs font-bold {{outcomeColor .Outcome}}">{{upper (printf "%s" .Outcome)}}</span></td>
                <td class="px-4 py-2 text-gray-400 text-xs">{{.Message}}{{if .Rule}} ({{.Rule}}){{end}}</td>
            </tr>
            {{end}}
        </tbody>
    </table>
</div>
` + footHTML

const configHTML = headHTML + `
<h1 class="text-2xl font-bold mb-6">Configuration</h1>
<div class="bg-gray-900 border border-gray-700 rounded-lg p-6 mb-6">
    <h2 class="text-lg font-bold mb-4">Resources</h2>
    {{range .Resources}}
    <div class="flex justify-between py-1 border-b border-gray-800 text-sm">
        <span class="text-gray-300 font-mono">{{.Name}} {{.Path}}</span>
        <span class="text-gray-400">{{.Pagination}} pages of {{.PageSize}}{{if .Counters}}, polls every {{.PollInterval}}{{end}}</span>
    </div>
    {{else}}<p class="text-gray-500">No resources configured</p>{{end}}
</div>
<div class="bg-gray-900 border border-gray-700 rounded-lg p-6">
    <pre class="font-mono text-sm text-gray-300 whitespace-pre-wrap">{{.ConfigYAML}}</pre>
</div>
` + footHTML
