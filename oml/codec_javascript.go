package oml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// the text form is a CommonJS-style module whose `exports.oml` is the identity-free tree
const jsModulePrefix = "module.exports = "
const jsExportKey = "oml"

var errMissingExport = errors.New("module.exports.oml is not set")

var jsIdentifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

type JsCodecSettings struct {
	// evaluation of a document is interrupted after this long
	EvalTimeout      time.Duration
	MaxCallStackSize int
}

func DefaultJsCodecSettings() *JsCodecSettings {
	return &JsCodecSettings{
		EvalTimeout:      1 * time.Second,
		MaxCallStackSize: 1024,
	}
}

// JsCodec renders trees as JavaScript object literals and parses text by evaluating it
// in an empty goja runtime. The only binding visible to the text is `module`.
type JsCodec struct {
	settings *JsCodecSettings
}

func NewJsCodecWithDefaults() *JsCodec {
	return NewJsCodec(DefaultJsCodecSettings())
}

func NewJsCodec(settings *JsCodecSettings) *JsCodec {
	return &JsCodec{
		settings: settings,
	}
}

func (self *JsCodec) Render(node *Node, indent Indent) (string, error) {
	w := &jsWriter{
		indent: string(indent),
	}
	w.out.WriteString(jsModulePrefix)
	w.writeEntries(0, []string{jsExportKey}, func(key string, depth int) {
		w.writeNode(StripIds(node), depth)
	})
	if w.err != nil {
		return "", w.err
	}
	return w.out.String(), nil
}

func (self *JsCodec) Parse(text string) (node *Node, returnErr error) {
	defer func() {
		if r := recover(); r != nil {
			node = nil
			returnErr = parseError(fmt.Errorf("%v", r))
		}
	}()

	vm := goja.New()
	vm.SetMaxCallStackSize(self.settings.MaxCallStackSize)

	// captured before the document runs, so the document cannot replace it
	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, parseError(errors.New("JSON.stringify is not a function"))
	}

	module := vm.NewObject()
	if err := module.Set("exports", vm.NewObject()); err != nil {
		return nil, parseError(err)
	}
	if err := vm.Set("module", module); err != nil {
		return nil, parseError(err)
	}

	timer := time.AfterFunc(self.settings.EvalTimeout, func() {
		vm.Interrupt("timeout")
	})
	defer timer.Stop()

	if _, err := vm.RunString(text); err != nil {
		return nil, parseError(err)
	}

	omlValue, err := jsExportedOml(vm)
	if err != nil {
		return nil, parseError(err)
	}
	omlJson, err := stringify(goja.Undefined(), omlValue)
	if err != nil {
		return nil, parseError(err)
	}
	if isJsNullish(omlJson) {
		// e.g. a function
		return nil, parseError(errMissingExport)
	}
	parsed, err := ParseNodeJson([]byte(omlJson.String()))
	if err != nil {
		return nil, parseError(err)
	}
	return StripIds(parsed), nil
}

// the document may reassign `module` itself, so read it back from the global scope
func jsExportedOml(vm *goja.Runtime) (goja.Value, error) {
	module := vm.Get("module")
	if isJsNullish(module) {
		return nil, errMissingExport
	}
	exports := module.ToObject(vm).Get("exports")
	if isJsNullish(exports) {
		return nil, errMissingExport
	}
	oml := exports.ToObject(vm).Get(jsExportKey)
	if isJsNullish(oml) {
		return nil, errMissingExport
	}
	return oml, nil
}

func isJsNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

type jsWriter struct {
	out    strings.Builder
	indent string
	// first value that could not be written
	err error
}

func (self *jsWriter) newline(depth int) {
	self.out.WriteByte('\n')
	for i := 0; i < depth; i += 1 {
		self.out.WriteString(self.indent)
	}
}

// writes `{ key: value, ... }` with one entry per line
func (self *jsWriter) writeEntries(depth int, keys []string, writeValue func(key string, depth int)) {
	if len(keys) == 0 {
		self.out.WriteString("{}")
		return
	}
	self.out.WriteByte('{')
	for i, key := range keys {
		self.newline(depth + 1)
		self.writeKey(key)
		self.out.WriteString(": ")
		writeValue(key, depth+1)
		if i < len(keys)-1 {
			self.out.WriteByte(',')
		}
	}
	self.newline(depth)
	self.out.WriteByte('}')
}

func (self *jsWriter) writeNode(node *Node, depth int) {
	keys := node.AttributeKeys()
	if node.HasGroup() {
		keys = append(keys, GroupKey)
	}
	self.writeEntries(depth, keys, func(key string, depth int) {
		if key == GroupKey {
			self.writeArray(depth, len(node.Children), func(i int, depth int) {
				self.writeNode(node.Children[i], depth)
			})
		} else {
			self.writeValue(node.Attributes[key], depth)
		}
	})
}

func (self *jsWriter) writeArray(depth int, n int, writeElement func(i int, depth int)) {
	if n == 0 {
		self.out.WriteString("[]")
		return
	}
	self.out.WriteByte('[')
	for i := 0; i < n; i += 1 {
		self.newline(depth + 1)
		writeElement(i, depth+1)
		if i < n-1 {
			self.out.WriteByte(',')
		}
	}
	self.newline(depth)
	self.out.WriteByte(']')
}

func (self *jsWriter) writeValue(value any, depth int) {
	switch v := normalizeValue(value).(type) {
	case nil:
		self.out.WriteString("null")
	case bool:
		self.out.WriteString(strconv.FormatBool(v))
	case float64:
		self.out.WriteString(jsNumber(v))
	case string:
		self.out.WriteString(jsQuote(v))
	case []any:
		self.writeArray(depth, len(v), func(i int, depth int) {
			self.writeValue(v[i], depth)
		})
	case map[string]any:
		keys := maps.Keys(v)
		slices.Sort(keys)
		self.writeEntries(depth, keys, func(key string, depth int) {
			self.writeValue(v[key], depth)
		})
	default:
		// not produced by decoding; fall back to the JSON spelling, which is also valid js
		b, err := json.Marshal(v)
		if err != nil {
			if self.err == nil {
				self.err = fmt.Errorf("Render js: %w", err)
			}
			self.out.WriteString("null")
			return
		}
		self.out.Write(b)
	}
}

func (self *jsWriter) writeKey(key string) {
	if jsIdentifierPattern.MatchString(key) {
		self.out.WriteString(key)
	} else {
		self.out.WriteString(jsQuote(key))
	}
}

func jsNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func jsQuote(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\u2028', '\u2029':
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('\'')
	return b.String()
}
