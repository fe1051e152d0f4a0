package log

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

type hasPC interface {
	PC() uintptr
}

type hasStack interface {
	StackPCs() []uintptr
}

// kinded errors name their own failure class, publish errors do this so
// logs can be queried by kind without parsing messages
type kinded interface {
	ErrorKind() string
}

// errorKV is the enrichment attached to every Error record
func errorKV(err error, links int) []any {
	surface, root := classifyTypes(err)
	kv := []any{
		"err", err,
		"error_type", surface,
		"cause_type", root,
	}
	if kind := errorKind(err); kind != "" {
		kv = append(kv, "error_kind", kind)
	}
	if chain := errorChain(err); len(chain) > 0 {
		kv = append(kv, "error_chain", chain)
	}
	if links > 0 {
		kv = append(kv, "error_links", chainLinks(err, links))
	}
	return kv
}

func errorKind(err error) string {
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return ""
}

// errorChain lists each distinct message from the outermost error inward.
// A joined error anywhere in the chain contributes its branches.
func errorChain(err error) []string {
	out := make([]string, 0, 8)
	var prev string
	add := func(msg string) {
		if msg != prev {
			out = append(out, msg)
			prev = msg
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e.Error())
		if m, ok := e.(interface{ Unwrap() []error }); ok {
			for _, branch := range m.Unwrap() {
				add(branch.Error())
			}
		}
	}
	return out
}

// chainLinks walks at most max links and records where each was created.
// The outermost link is always kept, inner links only when positioned.
func chainLinks(err error, max int) []map[string]any {
	links := make([]map[string]any, 0, 8)
	depth := 0
	for e := err; e != nil && (max <= 0 || depth < max); e = errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		fn, file, line, ok := errorPosition(e)
		if ok {
			link["func"], link["file"], link["line"] = fn, file, line
		}
		if depth == 0 || ok {
			links = append(links, link)
		}
		depth++
	}
	return links
}

// errorPosition prefers the single PC recorded by Wrap, then the first
// application frame of a captured stack
func errorPosition(e error) (fn, file string, line int, ok bool) {
	if hp, isPC := e.(hasPC); isPC {
		return frameFromPC(hp.PC())
	}
	if hs, isStack := e.(hasStack); isStack {
		return firstExtFrame(hs.StackPCs())
	}
	return "", "", 0, false
}

func frameFromPC(pc uintptr) (fn, file string, line int, ok bool) {
	if pc == 0 {
		return "", "", 0, false
	}
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr.Function, fr.File, fr.Line, true
}

// classifyTypes reports the first non-wrapper type in the chain and the
// type of the innermost error
func classifyTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}

	var last error
	for e := err; e != nil; e = errors.Unwrap(e) {
		last = e
		if surface == "" && !isWrapperType(e) {
			surface = reflect.TypeOf(e).String()
		}
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}
	return surface, fmt.Sprintf("%T", last)
}

func isWrapperType(e error) bool {
	t := reflect.TypeOf(e)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if strings.Contains(t.PkgPath(), "/internal/xerrors") {
		return true
	}
	return t.PkgPath() == "fmt" && t.Name() == "wrapError"
}
