package contract

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// writer assembles indented JSON with caller-controlled key order.
// encoding/json cannot express the envelope's layout — a fixed top-level
// order, lexicographic keys inside maps, and sub-objects that disappear
// on critical errors — so the document is built directly.
type writer struct {
	b      strings.Builder
	indent int
}

func (w *writer) pad() {
	for i := 0; i < w.indent; i++ {
		w.b.WriteString("  ")
	}
}

func (w *writer) raw(s string) { w.b.WriteString(s) }

func (w *writer) str(s string) {
	enc, _ := json.Marshal(s)
	w.b.Write(enc)
}

// field emitters track whether a comma is needed via the first flag.

type object struct {
	w     *writer
	first bool
}

func (w *writer) beginObject() *object {
	w.raw("{")
	w.indent++
	return &object{w: w, first: true}
}

func (o *object) key(name string) {
	if !o.first {
		o.w.raw(",")
	}
	o.first = false
	o.w.raw("\n")
	o.w.pad()
	o.w.str(name)
	o.w.raw(": ")
}

func (o *object) end() {
	o.w.indent--
	if !o.first {
		o.w.raw("\n")
		o.w.pad()
	}
	o.w.raw("}")
}

type array struct {
	w     *writer
	first bool
}

func (w *writer) beginArray() *array {
	w.raw("[")
	w.indent++
	return &array{w: w, first: true}
}

func (a *array) item() {
	if !a.first {
		a.w.raw(",")
	}
	a.first = false
	a.w.raw("\n")
	a.w.pad()
}

func (a *array) end() {
	a.w.indent--
	if !a.first {
		a.w.raw("\n")
		a.w.pad()
	}
	a.w.raw("]")
}

func (w *writer) stringArray(items []string) {
	a := w.beginArray()
	for _, s := range items {
		a.item()
		w.str(s)
	}
	a.end()
}

func (w *writer) stringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	o := w.beginObject()
	for _, k := range keys {
		o.key(k)
		w.str(m[k])
	}
	o.end()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Serialize renders the envelope deterministically. The top-level order is
// fixed (schema, app, nak, execution, environment, enforcement, trust,
// exports, capability_usage, warnings, critical_error, trace); all other
// objects sort their keys; arrays keep construction order. On a critical
// error the contract sub-objects are omitted entirely.
func Serialize(env *Envelope, includeTrace bool) string {
	w := &writer{}
	root := w.beginObject()

	root.key("schema")
	w.str(Schema)

	if !env.Failed() {
		c := &env.Contract

		root.key("app")
		app := w.beginObject()
		app.key("entrypoint")
		w.str(c.App.Entrypoint)
		app.key("id")
		w.str(c.App.ID)
		app.key("root")
		w.str(c.App.Root)
		app.key("version")
		w.str(c.App.Version)
		app.end()

		root.key("nak")
		nak := w.beginObject()
		nak.key("id")
		w.str(c.Nak.ID)
		nak.key("record_ref")
		w.str(c.Nak.RecordRef)
		nak.key("resource_root")
		w.str(c.Nak.ResourceRoot)
		nak.key("root")
		w.str(c.Nak.Root)
		nak.key("version")
		w.str(c.Nak.Version)
		nak.end()

		root.key("execution")
		exec := w.beginObject()
		exec.key("arguments")
		w.stringArray(c.Execution.Arguments)
		exec.key("binary")
		w.str(c.Execution.Binary)
		exec.key("cwd")
		w.str(c.Execution.Cwd)
		exec.key("library_path_env_key")
		w.str(c.Execution.LibraryPathEnvKey)
		exec.key("library_paths")
		w.stringArray(c.Execution.LibraryPaths)
		exec.end()

		root.key("environment")
		w.stringMap(c.Environment)

		root.key("enforcement")
		enf := w.beginObject()
		enf.key("filesystem")
		w.stringArray(c.Enforcement.Filesystem)
		enf.key("network")
		w.stringArray(c.Enforcement.Network)
		enf.end()

		root.key("trust")
		trust := w.beginObject()
		trust.key("details")
		w.stringMap(c.Trust.Details)
		trust.key("evaluated_at")
		w.str(c.Trust.EvaluatedAt)
		trust.key("expires_at")
		w.str(c.Trust.ExpiresAt)
		trust.key("inputs_hash")
		w.str(c.Trust.InputsHash)
		trust.key("source")
		w.str(c.Trust.Source)
		trust.key("state")
		w.str(c.Trust.State)
		trust.end()

		root.key("exports")
		exports := w.beginObject()
		for _, id := range sortedKeys(c.Exports) {
			e := c.Exports[id]
			exports.key(id)
			eo := w.beginObject()
			eo.key("id")
			w.str(e.ID)
			eo.key("path")
			w.str(e.Path)
			eo.key("type")
			w.str(e.Type)
			eo.end()
		}
		exports.end()

		root.key("capability_usage")
		cu := w.beginObject()
		cu.key("critical_capabilities")
		w.stringArray(c.CapabilityUsage.CriticalCapabilities)
		cu.key("optional_capabilities")
		w.stringArray(c.CapabilityUsage.OptionalCapabilities)
		cu.key("present")
		w.raw(strconv.FormatBool(c.CapabilityUsage.Present))
		cu.key("required_capabilities")
		w.stringArray(c.CapabilityUsage.RequiredCapabilities)
		cu.end()
	}

	root.key("warnings")
	warnArr := w.beginArray()
	for _, warn := range env.Warnings {
		warnArr.item()
		wo := w.beginObject()
		wo.key("action")
		w.str(string(warn.Action))
		wo.key("fields")
		w.stringMap(warn.Fields)
		wo.key("key")
		w.str(string(warn.Key))
		wo.end()
	}
	warnArr.end()

	root.key("critical_error")
	if env.Failed() {
		w.str(string(env.CriticalError))
	} else {
		w.raw("null")
	}

	if includeTrace && env.Trace != nil && !env.Failed() {
		root.key("trace")
		trace := w.beginObject()
		for _, section := range sortedKeys(env.Trace) {
			trace.key(section)
			so := w.beginObject()
			entries := env.Trace[section]
			for _, key := range sortedKeys(entries) {
				entry := entries[key]
				so.key(key)
				eo := w.beginObject()
				if len(entry.History) > 0 {
					eo.key("history")
					ha := w.beginArray()
					for _, h := range entry.History {
						ha.item()
						ho := w.beginObject()
						ho.key("accepted")
						w.raw(strconv.FormatBool(h.Accepted))
						ho.key("operation")
						w.str(h.Operation)
						ho.key("precedence_rank")
						w.raw(strconv.Itoa(h.PrecedenceRank))
						ho.key("source_kind")
						w.str(h.SourceKind)
						ho.key("source_path")
						w.str(h.SourcePath)
						ho.key("value")
						w.str(h.Value)
						ho.end()
					}
					ha.end()
				}
				eo.key("precedence_rank")
				w.raw(strconv.Itoa(entry.PrecedenceRank))
				eo.key("source_kind")
				w.str(entry.SourceKind)
				eo.key("source_path")
				w.str(entry.SourcePath)
				eo.key("value")
				w.str(entry.Value)
				eo.end()
			}
			so.end()
		}
		trace.end()
	}

	root.end()
	return w.b.String()
}
