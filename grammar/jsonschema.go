package grammar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// SchemaOptions controls how a JSON schema is translated into a grammar.
type SchemaOptions struct {
	// AnyWhitespace allows arbitrary whitespace between JSON punctuation.
	// When false, the exact Indent / ItemSep / KeySep layout is enforced.
	AnyWhitespace bool
	// Indent is the number of spaces per nesting level when AnyWhitespace
	// is false. Nil means single-line output.
	Indent *int
	// ItemSep and KeySep are the separators between members and between a
	// key and its value when AnyWhitespace is false. Empty values pick the
	// json.dumps defaults: ("," with Indent set, ", " otherwise) and ": ".
	ItemSep, KeySep string
	// StrictMode rejects properties and items not named by the schema,
	// equivalent to unevaluatedProperties/unevaluatedItems = false.
	StrictMode bool
	// MaxWhitespaceCnt bounds how many consecutive whitespace bytes are
	// admissible when AnyWhitespace is true. Zero means unbounded.
	MaxWhitespaceCnt int
}

// DefaultSchemaOptions returns the translation defaults: any whitespace,
// strict mode.
func DefaultSchemaOptions() SchemaOptions {
	return SchemaOptions{AnyWhitespace: true, StrictMode: true}
}

// SchemaTranslator converts a JSON schema document into a grammar. The
// built-in translator handles the common subset of draft schemas; a
// dialect-complete implementation can be substituted where needed.
type SchemaTranslator interface {
	Translate(schema []byte, opts SchemaOptions) (*Grammar, error)
}

// FromJSONSchema translates a JSON schema into a grammar using the built-in
// translator.
func FromJSONSchema(schema []byte, opts SchemaOptions) (*Grammar, error) {
	return builtinTranslator{}.Translate(schema, opts)
}

type builtinTranslator struct{}

func (builtinTranslator) Translate(schema []byte, opts SchemaOptions) (*Grammar, error) {
	doc, err := parseOrderedJSON(schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	b := &schemaBuilder{opts: opts, doc: doc, refs: map[string]string{}}
	rootExpr, err := b.translate(doc, "root", 0)
	if err != nil {
		return nil, err
	}
	rules := append([]Rule{{Name: "root", Body: rootExpr}}, b.rules...)
	g, err := New(rules, "root")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return g, nil
}

// jsonObj is a JSON object that remembers key order. Property order matters
// when translating to a grammar, and the standard decoder's map would drop
// it.
type jsonObj struct {
	keys []string
	vals map[string]any
}

func (o *jsonObj) get(key string) (any, bool) {
	v, ok := o.vals[key]
	return v, ok
}

func parseOrderedJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := parseOrderedValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON document")
	}
	return v, nil
}

func parseOrderedValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &jsonObj{vals: map[string]any{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key := keyTok.(string)
				val, err := parseOrderedValue(dec)
				if err != nil {
					return nil, err
				}
				if _, dup := obj.vals[key]; !dup {
					obj.keys = append(obj.keys, key)
				}
				obj.vals[key] = val
			}
			if _, err := dec.Token(); err != nil { // closing brace
				return nil, err
			}
			return obj, nil
		case '[':
			var arr []any
			for dec.More() {
				val, err := parseOrderedValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // closing bracket
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	default:
		return tok, nil
	}
}

type schemaBuilder struct {
	opts  SchemaOptions
	doc   any
	rules []Rule
	refs  map[string]string // JSON pointer -> rule name
	base  map[string]bool   // which basic_* rules have been emitted
	seq   int
}

func (b *schemaBuilder) addRule(name string, body *Expr) string {
	b.rules = append(b.rules, Rule{Name: name, Body: body})
	return name
}

func (b *schemaBuilder) freshName(hint string) string {
	b.seq++
	return fmt.Sprintf("%s_%d", hint, b.seq)
}

// ws returns the expression for a whitespace gap in any-whitespace mode.
func (b *schemaBuilder) ws() *Expr {
	b.needBase("basic_ws")
	return Ref("basic_ws")
}

// layout describes the concrete text around the members of one object or
// array at a given nesting depth.
type layout struct {
	open, sep, close *Expr // after '{', between members, before '}'
	keySep           *Expr // between a key and its value
}

func (b *schemaBuilder) layoutAt(depth int) layout {
	if b.opts.AnyWhitespace {
		ws := b.ws()
		return layout{
			open:   ws,
			sep:    Seq(b.ws(), Literal(","), b.ws()),
			close:  ws,
			keySep: Seq(b.ws(), Literal(":"), b.ws()),
		}
	}
	keySep := b.opts.KeySep
	if keySep == "" {
		keySep = ": "
	}
	if b.opts.Indent != nil {
		pad := strings.Repeat(" ", *b.opts.Indent)
		inner := "\n" + strings.Repeat(pad, depth+1)
		outer := "\n" + strings.Repeat(pad, depth)
		itemSep := b.opts.ItemSep
		if itemSep == "" {
			itemSep = ","
		}
		return layout{
			open:   Literal(inner),
			sep:    Literal(itemSep + inner),
			close:  Literal(outer),
			keySep: Literal(keySep),
		}
	}
	itemSep := b.opts.ItemSep
	if itemSep == "" {
		itemSep = ", "
	}
	return layout{
		open:   Empty(),
		sep:    Literal(itemSep),
		close:  Empty(),
		keySep: Literal(keySep),
	}
}

// translate produces the expression matching the given schema node. hint
// seeds the names of any synthetic rules.
func (b *schemaBuilder) translate(node any, hint string, depth int) (*Expr, error) {
	switch s := node.(type) {
	case bool:
		if !s {
			return nil, fmt.Errorf("%w: schema %q admits no value", ErrInvalidSchema, hint)
		}
		return b.basicAny(), nil
	case *jsonObj:
		return b.translateObjectSchema(s, hint, depth)
	case nil:
		return b.basicAny(), nil
	}
	return nil, fmt.Errorf("%w: schema must be an object or boolean", ErrInvalidSchema)
}

func (b *schemaBuilder) translateObjectSchema(s *jsonObj, hint string, depth int) (*Expr, error) {
	if ref, ok := s.get("$ref"); ok {
		return b.translateRef(ref, hint, depth)
	}
	if enum, ok := s.get("enum"); ok {
		return b.translateEnum(enum)
	}
	if cv, ok := s.get("const"); ok {
		return b.translateEnum([]any{cv})
	}
	for _, comb := range []string{"anyOf", "oneOf"} {
		if alt, ok := s.get(comb); ok {
			arms, ok := alt.([]any)
			if !ok || len(arms) == 0 {
				return nil, fmt.Errorf("%w: %s must be a non-empty array", ErrInvalidSchema, comb)
			}
			items := make([]*Expr, len(arms))
			for i, arm := range arms {
				sub, err := b.translate(arm, fmt.Sprintf("%s_case_%d", hint, i), depth)
				if err != nil {
					return nil, err
				}
				items[i] = sub
			}
			return Choice(items...), nil
		}
	}

	typ, ok := s.get("type")
	if !ok {
		return b.basicAny(), nil
	}
	switch t := typ.(type) {
	case string:
		return b.translateTyped(s, t, hint, depth)
	case []any:
		items := make([]*Expr, 0, len(t))
		for _, tv := range t {
			name, ok := tv.(string)
			if !ok {
				return nil, fmt.Errorf("%w: type entries must be strings", ErrInvalidSchema)
			}
			sub, err := b.translateTyped(s, name, hint+"_"+name, depth)
			if err != nil {
				return nil, err
			}
			items = append(items, sub)
		}
		return Choice(items...), nil
	}
	return nil, fmt.Errorf("%w: malformed type keyword", ErrInvalidSchema)
}

func (b *schemaBuilder) translateTyped(s *jsonObj, typ, hint string, depth int) (*Expr, error) {
	switch typ {
	case "string":
		b.needBase("basic_string")
		return Ref("basic_string"), nil
	case "integer":
		b.needBase("basic_integer")
		return Ref("basic_integer"), nil
	case "number":
		b.needBase("basic_number")
		return Ref("basic_number"), nil
	case "boolean":
		b.needBase("basic_boolean")
		return Ref("basic_boolean"), nil
	case "null":
		b.needBase("basic_null")
		return Ref("basic_null"), nil
	case "object":
		return b.translateObject(s, hint, depth)
	case "array":
		return b.translateArray(s, hint, depth)
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidSchema, typ)
}

func (b *schemaBuilder) translateRef(ref any, hint string, depth int) (*Expr, error) {
	ptr, ok := ref.(string)
	if !ok || !strings.HasPrefix(ptr, "#") {
		return nil, fmt.Errorf("%w: only local $ref pointers are supported", ErrInvalidSchema)
	}
	if name, ok := b.refs[ptr]; ok {
		return Ref(name), nil
	}
	target, err := resolvePointer(b.doc, ptr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	name := b.freshName("ref")
	// Register before translating so recursive schemas tie the knot.
	b.refs[ptr] = name
	body, err := b.translate(target, name, depth)
	if err != nil {
		return nil, err
	}
	b.addRule(name, body)
	return Ref(name), nil
}

func resolvePointer(doc any, ptr string) (any, error) {
	cur := doc
	rest := strings.TrimPrefix(ptr, "#")
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return cur, nil
	}
	for _, part := range strings.Split(rest, "/") {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")
		obj, ok := cur.(*jsonObj)
		if !ok {
			return nil, fmt.Errorf("cannot resolve $ref %q", ptr)
		}
		next, ok := obj.get(part)
		if !ok {
			return nil, fmt.Errorf("cannot resolve $ref %q", ptr)
		}
		cur = next
	}
	return cur, nil
}

func (b *schemaBuilder) translateEnum(enum any) (*Expr, error) {
	values, ok := enum.([]any)
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("%w: enum must be a non-empty array", ErrInvalidSchema)
	}
	items := make([]*Expr, len(values))
	for i, v := range values {
		text, err := renderJSONValue(v)
		if err != nil {
			return nil, err
		}
		items[i] = Literal(text)
	}
	return Choice(items...), nil
}

func renderJSONValue(v any) (string, error) {
	switch t := v.(type) {
	case *jsonObj:
		parts := make([]string, 0, len(t.keys))
		for _, k := range t.keys {
			kt, err := renderJSONValue(k)
			if err != nil {
				return "", err
			}
			vt, err := renderJSONValue(t.vals[k])
			if err != nil {
				return "", err
			}
			parts = append(parts, kt+": "+vt)
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			it, err := renderJSONValue(item)
			if err != nil {
				return "", err
			}
			parts[i] = it
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%w: unsupported enum value: %v", ErrInvalidSchema, err)
		}
		return string(out), nil
	}
}

// translateObject lowers an object schema into a member chain. For
// properties p0..pn-1 the chain rules are
//
//	part_i ::= sep p_i part_{i+1} | part_{i+1}       (skip only if optional)
//	part_n ::= additional-members or ""
//
// and the first emitted member (which takes no leading separator) is
// handled by inlined alternatives, so the whole object costs a linear
// number of rules.
func (b *schemaBuilder) translateObject(s *jsonObj, hint string, depth int) (*Expr, error) {
	lay := b.layoutAt(depth)

	var names []string
	var propSchemas []any
	if props, ok := s.get("properties"); ok {
		obj, ok := props.(*jsonObj)
		if !ok {
			return nil, fmt.Errorf("%w: properties must be an object", ErrInvalidSchema)
		}
		for _, k := range obj.keys {
			names = append(names, k)
			propSchemas = append(propSchemas, obj.vals[k])
		}
	}
	required := map[string]bool{}
	if req, ok := s.get("required"); ok {
		list, ok := req.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: required must be an array", ErrInvalidSchema)
		}
		for _, r := range list {
			name, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("%w: required entries must be strings", ErrInvalidSchema)
			}
			required[name] = true
		}
	}

	// Whether unnamed properties are admissible, and under which schema.
	var additional any
	additionalOK := !b.opts.StrictMode
	if ap, ok := s.get("additionalProperties"); ok {
		switch v := ap.(type) {
		case bool:
			additionalOK = v
		default:
			additionalOK = true
			additional = v
		}
	}

	// Member expressions: quoted key, key separator, value.
	members := make([]*Expr, len(names))
	for i, name := range names {
		quoted, err := renderJSONValue(name)
		if err != nil {
			return nil, err
		}
		val, err := b.translate(propSchemas[i], fmt.Sprintf("%s_prop_%d", hint, i), depth+1)
		if err != nil {
			return nil, err
		}
		members[i] = Seq(Literal(quoted), lay.keySep, val)
	}
	var extraMember *Expr
	if additionalOK {
		valSchema := additional
		val, err := b.translate(valSchema, hint+"_addl", depth+1)
		if err != nil {
			return nil, err
		}
		b.needBase("basic_string")
		extraMember = Seq(Ref("basic_string"), lay.keySep, val)
	}

	// Tail chain: part_i admits the members i..n-1 (each preceded by the
	// item separator) plus any additional members.
	partNames := make([]string, len(names)+1)
	tailName := b.freshName(hint + "_part")
	if extraMember != nil {
		b.addRule(tailName, Choice(Empty(), Seq(lay.sep, extraMember, Ref(tailName))))
	} else {
		b.addRule(tailName, Empty())
	}
	partNames[len(names)] = tailName
	for i := len(names) - 1; i >= 0; i-- {
		emit := Seq(lay.sep, members[i], Ref(partNames[i+1]))
		var body *Expr
		if required[names[i]] {
			body = emit
		} else {
			body = Choice(emit, Ref(partNames[i+1]))
		}
		partNames[i] = b.addRule(b.freshName(hint+"_part"), body)
	}

	// First member alternatives: pick the first emitted property (or an
	// additional member), then continue with its tail chain.
	var firstAlts []*Expr
	for i := range names {
		firstAlts = append(firstAlts, Seq(members[i], Ref(partNames[i+1])))
		if required[names[i]] {
			break
		}
	}
	allOptional := true
	for _, name := range names {
		if required[name] {
			allOptional = false
			break
		}
	}
	if allOptional && extraMember != nil {
		firstAlts = append(firstAlts, Seq(extraMember, Ref(tailName)))
	}

	open, closing := Literal("{"), Literal("}")
	var alts []*Expr
	if len(firstAlts) > 0 {
		alts = append(alts, Seq(open, lay.open, Choice(firstAlts...), lay.close, closing))
	}
	if allOptional {
		empty := Seq(open, closing)
		if b.opts.AnyWhitespace {
			empty = Seq(open, b.ws(), closing)
		}
		alts = append(alts, empty)
	}
	if len(alts) == 0 {
		return nil, fmt.Errorf("%w: object schema admits no value", ErrInvalidSchema)
	}
	return Choice(alts...), nil
}

func (b *schemaBuilder) translateArray(s *jsonObj, hint string, depth int) (*Expr, error) {
	lay := b.layoutAt(depth)
	var itemSchema any
	if items, ok := s.get("items"); ok {
		itemSchema = items
	} else if b.opts.StrictMode {
		itemSchema = false
	}
	minItems, maxItems := 0, -1
	if v, ok := s.get("minItems"); ok {
		n, err := asInt(v)
		if err != nil {
			return nil, fmt.Errorf("%w: minItems: %v", ErrInvalidSchema, err)
		}
		minItems = n
	}
	if v, ok := s.get("maxItems"); ok {
		n, err := asInt(v)
		if err != nil {
			return nil, fmt.Errorf("%w: maxItems: %v", ErrInvalidSchema, err)
		}
		maxItems = n
	}

	open, closing := Literal("["), Literal("]")
	empty := Seq(open, closing)
	if b.opts.AnyWhitespace {
		empty = Seq(open, b.ws(), closing)
	}
	if maxItems == 0 {
		return empty, nil
	}
	if itemSchema == false && minItems > 0 {
		return nil, fmt.Errorf("%w: array schema admits no items but requires %d", ErrInvalidSchema, minItems)
	}
	if itemSchema == false {
		return empty, nil
	}

	item, err := b.translate(itemSchema, hint+"_items", depth+1)
	if err != nil {
		return nil, err
	}
	repMin := minItems - 1
	if repMin < 0 {
		repMin = 0
	}
	repMax := -1
	if maxItems > 0 {
		repMax = maxItems - 1
	}
	more := Repeat(Seq(lay.sep, item), repMin, repMax)
	nonEmpty := Seq(open, lay.open, item, more, lay.close, closing)
	if minItems > 0 {
		return nonEmpty, nil
	}
	return Choice(nonEmpty, empty), nil
}

func asInt(v any) (int, error) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
	n, err := num.Int64()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// needBase emits the named shared rule (and its dependencies) once.
func (b *schemaBuilder) needBase(name string) {
	if b.base == nil {
		b.base = map[string]bool{}
	}
	if b.base[name] {
		return
	}
	b.base[name] = true
	switch name {
	case "basic_ws":
		max := -1
		if b.opts.MaxWhitespaceCnt > 0 {
			max = b.opts.MaxWhitespaceCnt
		}
		b.addRule(name, Repeat(Class([]RuneRange{{' ', ' '}, {'\n', '\n'}, {'\t', '\t'}, {'\r', '\r'}}, false), 0, max))
	case "basic_string":
		b.needBase("basic_escape")
		chars := b.freshName("basic_string_sub")
		b.addRule(chars, Choice(
			Empty(),
			Seq(Class([]RuneRange{{'"', '"'}, {'\\', '\\'}, {0, 0x1F}}, true), Ref(chars)),
			Seq(Literal(`\`), Ref("basic_escape"), Ref(chars)),
		))
		b.addRule(name, Seq(Literal(`"`), Ref(chars), Literal(`"`)))
	case "basic_escape":
		hex := Class([]RuneRange{{'0', '9'}, {'a', 'f'}, {'A', 'F'}}, false)
		b.addRule(name, Choice(
			Class([]RuneRange{{'"', '"'}, {'\\', '\\'}, {'/', '/'}, {'b', 'b'}, {'f', 'f'}, {'n', 'n'}, {'r', 'r'}, {'t', 't'}}, false),
			Seq(Literal("u"), hex, hex, hex, hex),
		))
	case "basic_integer":
		// The sign is legal before either branch; "-0" is a valid JSON
		// integer literal.
		b.addRule(name, Seq(
			Repeat(Literal("-"), 0, 1),
			Choice(Literal("0"), Seq(Class([]RuneRange{{'1', '9'}}, false), ZeroOrMore(Class([]RuneRange{{'0', '9'}}, false)))),
		))
	case "basic_number":
		digit := Class([]RuneRange{{'0', '9'}}, false)
		b.addRule(name, Seq(
			Repeat(Literal("-"), 0, 1),
			Choice(Literal("0"), Seq(Class([]RuneRange{{'1', '9'}}, false), ZeroOrMore(digit))),
			Repeat(Seq(Literal("."), OneOrMore(digit)), 0, 1),
			Repeat(Seq(Class([]RuneRange{{'e', 'e'}, {'E', 'E'}}, false), Repeat(Class([]RuneRange{{'+', '+'}, {'-', '-'}}, false), 0, 1), OneOrMore(digit)), 0, 1),
		))
	case "basic_boolean":
		b.addRule(name, Choice(Literal("true"), Literal("false")))
	case "basic_null":
		b.addRule(name, Literal("null"))
	case "basic_any":
		b.needBase("basic_number")
		b.needBase("basic_string")
		b.needBase("basic_boolean")
		b.needBase("basic_null")
		b.needBase("basic_object")
		b.needBase("basic_array")
		b.addRule(name, Choice(
			Ref("basic_number"), Ref("basic_string"), Ref("basic_boolean"),
			Ref("basic_null"), Ref("basic_object"), Ref("basic_array"),
		))
	case "basic_object":
		b.needBase("basic_string")
		member := Seq(Ref("basic_string"), b.ws(), Literal(":"), b.ws(), Ref("basic_any"))
		b.addRule(name, Seq(
			Literal("{"),
			Choice(
				Seq(b.ws(), member, ZeroOrMore(Seq(b.ws(), Literal(","), b.ws(), member))),
				Empty(),
			),
			b.ws(), Literal("}"),
		))
	case "basic_array":
		b.addRule(name, Seq(
			Literal("["),
			Choice(
				Seq(b.ws(), Ref("basic_any"), ZeroOrMore(Seq(b.ws(), Literal(","), b.ws(), Ref("basic_any")))),
				Empty(),
			),
			b.ws(), Literal("]"),
		))
	}
}

// basicAny returns a reference to the generic JSON value rule, emitting it
// on first use.
func (b *schemaBuilder) basicAny() *Expr {
	b.needBase("basic_any")
	return Ref("basic_any")
}
