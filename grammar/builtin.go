package grammar

// BuiltinJSON returns the grammar of standard JSON documents (an object or
// an array at the top level), with free whitespace between tokens.
func BuiltinJSON() *Grammar {
	b := &schemaBuilder{opts: DefaultSchemaOptions()}
	b.needBase("basic_any")
	rules := append([]Rule{{
		Name: "root",
		Body: Choice(Ref("basic_object"), Ref("basic_array")),
	}}, b.rules...)
	return MustNew(rules, "root")
}
