package main

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/printer"
	"go/token"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

const dispatchImport = "github.com/codewandler/ampd-go/core/dispatch"

var errNoInterfaces = errors.New("no interfaces to generate")

// continuation type name -> proxy method
var markerCalls = map[string]string{
	"Result":  "Query",
	"Stream":  "Stream",
	"PipeIn":  "PipeIn",
	"PipeOut": "PipeOut",
}

type param struct {
	name string
	typ  string
}

type method struct {
	name   string
	ctx    string
	params []param
	// call is Send, Query, Stream, PipeIn, PipeOut or Call.
	call string
	// result is the value type of a Call, empty for error-only methods.
	result string
}

type iface struct {
	name    string
	methods []method
}

type generator struct {
	fset    *token.FileSet
	file    *ast.File
	pkg     string // qualifier for dispatch in the generated file
	local   bool   // the source file is package dispatch itself
	imports map[string]*ast.ImportSpec
	used    map[string]bool
}

// generate renders stubs for the named interfaces of src, or for every
// interface whose methods all take a context.Context when names is empty.
func generate(filename string, src []byte, names []string) ([]byte, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	g := &generator{
		fset:    fset,
		file:    file,
		imports: make(map[string]*ast.ImportSpec),
		used:    make(map[string]bool),
	}
	for _, spec := range file.Imports {
		path, _ := strconv.Unquote(spec.Path.Value)
		g.imports[importName(spec, path)] = spec
		if path == dispatchImport {
			g.pkg = importName(spec, path)
		}
	}
	if file.Name.Name == "dispatch" && g.pkg == "" {
		g.local = true
	}
	if g.pkg == "" {
		g.pkg = "dispatch"
	}

	var out []iface
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts := spec.(*ast.TypeSpec)
			it, ok := ts.Type.(*ast.InterfaceType)
			if !ok || ts.TypeParams != nil {
				continue
			}
			if len(names) > 0 && !slices.Contains(names, ts.Name.Name) {
				continue
			}
			i, err := g.iface(ts.Name.Name, it)
			if err != nil {
				if len(names) == 0 && errors.Is(err, errSkip) {
					continue
				}
				return nil, err
			}
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		return nil, errNoInterfaces
	}
	for _, n := range names {
		if !slices.ContainsFunc(out, func(i iface) bool { return i.name == n }) {
			return nil, fmt.Errorf("interface %s not found in %s", n, filename)
		}
	}
	return g.render(out)
}

var errSkip = errors.New("not a service interface")

func (g *generator) iface(name string, it *ast.InterfaceType) (iface, error) {
	i := iface{name: name}
	for _, field := range it.Methods.List {
		ft, ok := field.Type.(*ast.FuncType)
		if !ok || len(field.Names) == 0 {
			return i, fmt.Errorf("%s: embedded interfaces are not supported", name)
		}
		m, err := g.method(field.Names[0].Name, ft)
		if err != nil {
			return i, fmt.Errorf("%s.%s: %w", name, field.Names[0].Name, err)
		}
		i.methods = append(i.methods, m)
	}
	if len(i.methods) == 0 {
		return i, fmt.Errorf("%s: %w", name, errSkip)
	}
	return i, nil
}

func (g *generator) method(name string, ft *ast.FuncType) (method, error) {
	m := method{name: name, call: "Send"}

	var fields []*ast.Field
	if ft.Params != nil {
		fields = ft.Params.List
	}
	n := 0
	for _, f := range fields {
		names := f.Names
		if len(names) == 0 {
			names = []*ast.Ident{nil}
		}
		for _, id := range names {
			pname := fmt.Sprintf("a%d", n)
			if id != nil && id.Name != "_" {
				pname = id.Name
			}
			n++
			if _, ok := f.Type.(*ast.Ellipsis); ok {
				return m, fmt.Errorf("%w: variadic parameter", errSkip)
			}
			if n == 1 && g.isContext(f.Type) {
				m.ctx = pname
				continue
			}
			if call, ok := g.marker(f.Type); ok {
				if m.call != "Send" {
					return m, fmt.Errorf("%w: more than one continuation", errSkip)
				}
				m.call = call
			}
			m.params = append(m.params, param{name: pname, typ: g.expr(f.Type)})
		}
	}
	if m.ctx == "" {
		return m, fmt.Errorf("%w: first parameter must be context.Context", errSkip)
	}

	var results []*ast.Field
	if ft.Results != nil {
		results = ft.Results.List
	}
	count := 0
	for _, r := range results {
		count += max(len(r.Names), 1)
	}
	switch {
	case count == 0:
	case m.call != "Send":
		return m, fmt.Errorf("%w: continuation methods must not return values", errSkip)
	case count == 1 && g.isError(results[0].Type):
		m.call = "Call"
	case count == 2 && len(results) == 2 && g.isError(results[1].Type):
		m.call = "Call"
		m.result = g.expr(results[0].Type)
	default:
		return m, fmt.Errorf("%w: results must be (error) or (T, error)", errSkip)
	}
	return m, nil
}

func (g *generator) isContext(e ast.Expr) bool {
	sel, ok := e.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "Context" {
		return false
	}
	x, ok := sel.X.(*ast.Ident)
	if !ok {
		return false
	}
	spec, ok := g.imports[x.Name]
	return ok && spec.Path.Value == `"context"`
}

func (g *generator) isError(e ast.Expr) bool {
	id, ok := e.(*ast.Ident)
	return ok && id.Name == "error"
}

// marker reports the proxy call for a continuation parameter type.
func (g *generator) marker(e ast.Expr) (string, bool) {
	idx, ok := e.(*ast.IndexExpr)
	if !ok {
		return "", false
	}
	var name string
	switch x := idx.X.(type) {
	case *ast.SelectorExpr:
		pkg, ok := x.X.(*ast.Ident)
		if !ok || g.local || pkg.Name != g.pkg {
			return "", false
		}
		name = x.Sel.Name
	case *ast.Ident:
		if !g.local {
			return "", false
		}
		name = x.Name
	default:
		return "", false
	}
	call, ok := markerCalls[name]
	return call, ok
}

// expr prints e and records the imports it references.
func (g *generator) expr(e ast.Expr) string {
	ast.Inspect(e, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			if id, ok := sel.X.(*ast.Ident); ok {
				g.used[id.Name] = true
			}
		}
		return true
	})
	var buf bytes.Buffer
	_ = printer.Fprint(&buf, g.fset, e)
	return buf.String()
}

func (g *generator) render(ifaces []iface) ([]byte, error) {
	var b bytes.Buffer
	q := g.pkg + "."
	if g.local {
		q = ""
	}

	fmt.Fprintf(&b, "// Code generated by ampd-stubgen. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", g.file.Name.Name)

	b.WriteString("import (\n\t\"context\"\n")
	if !g.local {
		if g.pkg == "dispatch" {
			fmt.Fprintf(&b, "\t%q\n", dispatchImport)
		} else {
			fmt.Fprintf(&b, "\t%s %q\n", g.pkg, dispatchImport)
		}
	}
	var extra []string
	for name := range g.used {
		spec, ok := g.imports[name]
		if !ok || name == g.pkg || spec.Path.Value == `"context"` {
			continue
		}
		if spec.Name != nil {
			extra = append(extra, spec.Name.Name+" "+spec.Path.Value)
		} else {
			extra = append(extra, spec.Path.Value)
		}
	}
	slices.Sort(extra)
	for _, imp := range extra {
		fmt.Fprintf(&b, "\t%s\n", imp)
	}
	b.WriteString(")\n")

	for _, i := range ifaces {
		stub := stubName(i.name)
		fmt.Fprintf(&b, "\ntype %s struct{ %sStub }\n", stub, q)
		for _, m := range i.methods {
			recv := receiver(m)
			args := []string{m.ctx + " context.Context"}
			fwd := []string{m.ctx, recv + ".Proxy()", strconv.Quote(m.name)}
			for _, p := range m.params {
				args = append(args, p.name+" "+p.typ)
				fwd = append(fwd, p.name)
			}
			sig := strings.Join(args, ", ")

			switch {
			case m.call == "Call" && m.result == "":
				fmt.Fprintf(&b, "\nfunc (%s %s) %s(%s) error {\n", recv, stub, m.name, sig)
				fmt.Fprintf(&b, "\treturn %sCallErr(%s)\n}\n", q, strings.Join(fwd, ", "))
			case m.call == "Call":
				fmt.Fprintf(&b, "\nfunc (%s %s) %s(%s) (%s, error) {\n", recv, stub, m.name, sig, m.result)
				fmt.Fprintf(&b, "\treturn %sCall[%s](%s)\n}\n", q, m.result, strings.Join(fwd, ", "))
			default:
				fmt.Fprintf(&b, "\nfunc (%s %s) %s(%s) {\n", recv, stub, m.name, sig)
				fmt.Fprintf(&b, "\t_ = %s.Proxy().%s(%s)\n}\n", recv, m.call, strings.Join(append([]string{m.ctx, strconv.Quote(m.name)}, fwd[3:]...), ", "))
			}
		}
	}

	b.WriteString("\nfunc init() {\n")
	for _, i := range ifaces {
		fmt.Fprintf(&b, "\t%sRegisterStub(func(p *%sProxy) %s { return %s{%sNewStub(p)} })\n", q, q, i.name, stubName(i.name), q)
	}
	b.WriteString("}\n")

	src, err := format.Source(b.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format generated code: %w\n%s", err, b.Bytes())
	}
	return src, nil
}

func stubName(iface string) string {
	r := []rune(iface)
	r[0] = unicode.ToLower(r[0])
	return string(r) + "Stub"
}

// receiver picks a receiver name no parameter uses.
func receiver(m method) string {
	for _, name := range []string{"s", "st", "stub", "self"} {
		taken := name == m.ctx
		for _, p := range m.params {
			taken = taken || p.name == name
		}
		if !taken {
			return name
		}
	}
	return "stub_"
}

func importName(spec *ast.ImportSpec, path string) string {
	if spec.Name != nil {
		return spec.Name.Name
	}
	name := path[strings.LastIndex(path, "/")+1:]
	// strip major version suffixes like /v2
	if len(name) > 1 && name[0] == 'v' && strings.Trim(name[1:], "0123456789") == "" {
		rest := strings.TrimSuffix(path, "/"+name)
		name = rest[strings.LastIndex(rest, "/")+1:]
	}
	return name
}
