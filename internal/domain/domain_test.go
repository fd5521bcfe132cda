package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{ExecutionStatusPending, ExecutionStatusRunning, true},
		{ExecutionStatusPending, ExecutionStatusCancelled, true},
		{ExecutionStatusPending, ExecutionStatusCompleted, false},
		{ExecutionStatusRunning, ExecutionStatusCompleted, true},
		{ExecutionStatusRunning, ExecutionStatusFailed, true},
		{ExecutionStatusRunning, ExecutionStatusCancelled, false},
		{ExecutionStatusCompleted, ExecutionStatusRunning, false},
		{ExecutionStatusFailed, ExecutionStatusRunning, false},
		{ExecutionStatusCancelled, ExecutionStatusRunning, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestPayloadHashStability(t *testing.T) {
	a := &Payload{
		ApplicationForm: map[string]any{
			"merchant.name": "ABC Tech Inc",
			"merchant.ein":  "12-3456789",
		},
		RevisionIDs: []string{"r2", "r1"},
	}
	b := &Payload{
		ApplicationForm: map[string]any{
			"merchant.ein":  "12-3456789",
			"merchant.name": "ABC Tech Inc",
		},
		RevisionIDs: []string{"r1", "r2"},
	}

	ha, err := a.Hash()
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := b.Hash()
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if ha != hb {
		t.Fatalf("equivalent payloads must hash identically: %s vs %s", ha, hb)
	}

	c := &Payload{
		ApplicationForm: map[string]any{
			"merchant.name": "ABC Tech Inc",
			"merchant.ein":  "98-7654321",
		},
		RevisionIDs: []string{"r1", "r2"},
	}
	hc, _ := c.Hash()
	if hc == ha {
		t.Fatal("changed field value must change the hash")
	}
}

func TestPayloadHashDocumentOrderMatters(t *testing.T) {
	d1 := DocumentInput{DocumentID: "d1", RevisionID: "r1", StipulationType: "s_bank_statement", URI: "gs://a"}
	d2 := DocumentInput{DocumentID: "d2", RevisionID: "r2", StipulationType: "s_bank_statement", URI: "gs://b"}

	a := &Payload{DocumentsList: []DocumentInput{d1, d2}}
	b := &Payload{DocumentsList: []DocumentInput{d2, d1}}

	ha, _ := a.Hash()
	hb, _ := b.Hash()
	if ha == hb {
		t.Fatal("document list order is meaningful and must change the hash")
	}
}

func TestPayloadEncodeDecode(t *testing.T) {
	p := &Payload{
		ApplicationForm: map[string]any{"merchant.name": "ABC Tech Inc"},
		OwnersList:      []map[string]any{{"name": "Jordan", "ownership_pct": 100.0}},
		DocumentsList:   []DocumentInput{{DocumentID: "d1", RevisionID: "r1", StipulationType: "s_drivers_license", URI: "gs://dl"}},
		RevisionIDs:     []string{"r1"},
	}
	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	h1, _ := p.Hash()
	h2, _ := back.Hash()
	if h1 != h2 {
		t.Fatal("payload must survive an encode/decode round trip")
	}
}

func TestCurrentExecutionIDsRoundTrip(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	enc, err := EncodeExecutionIDs(ids)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cfg := &CaseProcessorConfig{CurrentExecutions: enc}
	got, err := cfg.CurrentExecutionIDs()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0] != ids[0] || got[1] != ids[1] {
		t.Fatalf("expected %v, got %v", ids, got)
	}

	empty := &CaseProcessorConfig{}
	got, err = empty.CurrentExecutionIDs()
	if err != nil || got != nil {
		t.Fatalf("empty column must decode to nil, got %v (%v)", got, err)
	}
}

func TestDocumentsByStipulationStableOrder(t *testing.T) {
	idA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	idB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	snap := &CaseSnapshot{
		Documents: []DocumentRef{
			{ID: idB, StipulationType: "s_bank_statement"},
			{ID: idA, StipulationType: "s_bank_statement"},
			{ID: uuid.New(), StipulationType: "s_tax_return"},
		},
	}
	got := snap.DocumentsByStipulation([]string{"s_bank_statement"})
	if len(got) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(got))
	}
	if got[0].ID != idA || got[1].ID != idB {
		t.Fatalf("expected id-ordered documents, got %v then %v", got[0].ID, got[1].ID)
	}
}

func TestConfigGetters(t *testing.T) {
	c := Config{"minimum_documents": float64(3), "mode": "strict", "fan_out": true}
	if got := c.Int("minimum_documents", 1); got != 3 {
		t.Fatalf("Int = %d, want 3", got)
	}
	if got := c.Int("missing", 7); got != 7 {
		t.Fatalf("Int default = %d, want 7", got)
	}
	if got := c.String("mode", "lenient"); got != "strict" {
		t.Fatalf("String = %q, want strict", got)
	}
	if got := c.Bool("fan_out", false); !got {
		t.Fatal("Bool = false, want true")
	}
}

func TestPhaseError(t *testing.T) {
	err := NewPhaseError(FailureValidation, PhaseValidateInput, "missing merchant.ein", nil)
	if err.Code != FailureValidation || err.Phase != PhaseValidateInput {
		t.Fatalf("unexpected classification: %+v", err)
	}
	if err.Error() == "" {
		t.Fatal("expected a message")
	}
}
