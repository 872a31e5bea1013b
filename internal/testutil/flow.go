package testutil

// FixedIDGenerator generates the same instance id every time.
//
// This enables deterministic test execution and golden snapshot comparison:
// log lines and traces that include the application id stay byte-identical.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a new fixed id generator.
// If id is empty, Generate() returns "test-app-default".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-app-default"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
//
// Implements dispatch.IDGenerator interface.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
