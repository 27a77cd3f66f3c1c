package pipeline

// envelope is the shared immutable (data, metadata) pair behind Input
// and Output. Constructors clone what they are given and accessors
// clone what they return, so an envelope never changes after it is
// built and stages communicate only by constructing new envelopes.
type envelope struct {
	data     *Fields
	metadata *Fields
}

func newEnvelope(data, metadata *Fields) envelope {
	if data == nil {
		data = NewFields()
	}
	if metadata == nil {
		metadata = NewFields()
	}
	return envelope{data: data.Clone(), metadata: metadata.Clone()}
}

// Data returns a clone of the data fields.
func (e envelope) Data() *Fields { return e.data.Clone() }

// Metadata returns a clone of the metadata fields.
func (e envelope) Metadata() *Fields { return e.metadata.Clone() }

// DataValue reads a single data field without cloning the envelope.
func (e envelope) DataValue(key string) (any, bool) { return e.data.Get(key) }

// MetadataValue reads a single metadata field without cloning the envelope.
func (e envelope) MetadataValue(key string) (any, bool) { return e.metadata.Get(key) }

// Input is the immutable envelope entering a stage.
type Input struct {
	envelope
}

// NewInput builds an Input from data and metadata fields. Either may be
// nil. The fields are cloned; the caller keeps ownership of its copies.
func NewInput(data, metadata *Fields) Input {
	return Input{newEnvelope(data, metadata)}
}

// Output is the immutable envelope leaving a stage.
type Output struct {
	envelope
}

// NewOutput builds an Output from data and metadata fields. Either may
// be nil. The fields are cloned; the caller keeps ownership of its copies.
func NewOutput(data, metadata *Fields) Output {
	return Output{newEnvelope(data, metadata)}
}

// valueReader is satisfied by Input and Output.
type valueReader interface {
	MetadataValue(key string) (any, bool)
}

// MetadataAs reads a metadata value and asserts it to T. It returns the
// zero value and false when the key is absent or holds a different type.
func MetadataAs[T any](src valueReader, key string) (T, bool) {
	var zero T
	v, ok := src.MetadataValue(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
