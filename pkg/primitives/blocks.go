// Package primitives defines the typed building blocks of a request
// template and the candidate value pool that materializes them.
package primitives

// Kind identifies a primitive type. Dictionary keys are the kind name
// prefixed with "restler_".
type Kind string

const (
	KindStaticString      Kind = "static_string"
	KindString            Kind = "fuzzable_string"
	KindInt               Kind = "fuzzable_int"
	KindNumber            Kind = "fuzzable_number"
	KindBool              Kind = "fuzzable_bool"
	KindDateTime          Kind = "fuzzable_datetime"
	KindDate              Kind = "fuzzable_date"
	KindObject            Kind = "fuzzable_object"
	KindUUID4             Kind = "fuzzable_uuid4"
	KindGroup             Kind = "fuzzable_group"
	KindCustomPayload     Kind = "custom_payload"
	KindCustomHeader      Kind = "custom_payload_header"
	KindCustomQuery       Kind = "custom_payload_query"
	KindCustomUUID4Suffix Kind = "custom_payload_uuid4_suffix"
	KindAuthToken         Kind = "refreshable_authentication_token"
)

const dictionaryPrefix = "restler_"

// DictionaryKey returns the key under which values of k are stored in a
// dictionary file.
func (k Kind) DictionaryKey() string {
	return dictionaryPrefix + string(k)
}

// IsFuzzable reports whether k is one of the fuzzable_* kinds.
func (k Kind) IsFuzzable() bool {
	switch k {
	case KindString, KindInt, KindNumber, KindBool, KindDateTime,
		KindDate, KindObject, KindUUID4, KindGroup:
		return true
	}
	return false
}

// IsCustom reports whether k is one of the custom_payload* kinds.
func (k Kind) IsCustom() bool {
	switch k {
	case KindCustomPayload, KindCustomHeader, KindCustomQuery, KindCustomUUID4Suffix:
		return true
	}
	return false
}

// RDELIM delimits dynamic object placeholders inside rendered requests.
const RDELIM = "_READER_DELIM"

// Placeholder returns the sentinel a reader of variable renders to
// before dependency resolution.
func Placeholder(variable string) string {
	return RDELIM + variable + RDELIM
}

// Block is one element of a request template. The set of implementations
// is closed.
type Block interface {
	block()
}

// StaticString is literal text.
type StaticString struct {
	Text   string
	Quoted bool
}

// FuzzableValue is a value drawn from the candidate pool. When Writer is
// set, the chosen value is recorded as that dynamic variable.
type FuzzableValue struct {
	Kind       Kind
	Default    string
	Quoted     bool
	Examples   []string
	EnumValues []string
	Writer     string
}

// CustomPayload is a user-provided value looked up by tag.
type CustomPayload struct {
	Kind   Kind
	Tag    string
	Quoted bool
	Writer string
}

// DynamicObjectReader consumes a dynamic variable produced earlier in the
// sequence.
type DynamicObjectReader struct {
	Variable string
	Quoted   bool
}

// RefreshableAuthToken renders the current authentication header line.
type RefreshableAuthToken struct{}

func (StaticString) block()         {}
func (FuzzableValue) block()        {}
func (CustomPayload) block()        {}
func (DynamicObjectReader) block()  {}
func (RefreshableAuthToken) block() {}

// Static is shorthand for an unquoted StaticString.
func Static(text string) StaticString {
	return StaticString{Text: text}
}

// Reader is shorthand for an unquoted DynamicObjectReader.
func Reader(variable string) DynamicObjectReader {
	return DynamicObjectReader{Variable: variable}
}

// WriterOf returns the writer variable of b, if any.
func WriterOf(b Block) string {
	switch v := b.(type) {
	case FuzzableValue:
		return v.Writer
	case CustomPayload:
		return v.Writer
	}
	return ""
}
