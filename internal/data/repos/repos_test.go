package repos

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/aurafin/underwriting-engine/internal/data/repos/testutil"
	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/apperr"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
)

func TestCaseSnapshot(t *testing.T) {
	db := testutil.OpenDB(t)
	log := testutil.Logger(t)
	repo := NewCaseRepo(log)
	dbc := testutil.Ctx(t, db)

	orgID := uuid.New()
	c := testutil.SeedCase(t, dbc, orgID, map[string]any{
		"merchant.name": "ABC Tech Inc",
		"merchant.ein":  "12-3456789",
	})
	testutil.SeedDocument(t, dbc, c.ID, "s_bank_statement", "gs://b/jan.pdf", map[string]any{"total_deposits": 1000.0})
	testutil.SeedDocument(t, dbc, c.ID, "s_drivers_license", "gs://b/dl.png", nil)

	snap, err := repo.Snapshot(dbc, c.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.OrganizationID != orgID {
		t.Fatalf("org = %v", snap.OrganizationID)
	}
	if snap.Field("merchant.name") != "ABC Tech Inc" {
		t.Fatalf("field = %v", snap.Field("merchant.name"))
	}
	if len(snap.Documents) != 2 {
		t.Fatalf("documents = %d", len(snap.Documents))
	}
	bank := snap.DocumentsByStipulation([]string{"s_bank_statement"})
	if len(bank) != 1 || bank[0].Metadata["total_deposits"] != 1000.0 {
		t.Fatalf("bank docs = %+v", bank)
	}
}

func TestCaseSnapshotMissingCase(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewCaseRepo(testutil.Logger(t))
	dbc := testutil.Ctx(t, db)

	if _, err := repo.Snapshot(dbc, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func seedExecution(t *testing.T, dbc dbctx.Context, repo ExecutionRepo, cfg *domain.CaseProcessorConfig, hash string) *domain.Execution {
	t.Helper()
	e := &domain.Execution{
		OrganizationID:        cfg.OrganizationID,
		CaseID:                cfg.CaseID,
		CaseProcessorConfigID: cfg.ID,
		ProcessorName:         cfg.ProcessorName,
		Enabled:               true,
		PayloadHash:           hash,
	}
	if err := repo.Create(dbc, e); err != nil {
		t.Fatalf("create execution: %v", err)
	}
	return e
}

func seedConfigTree(t *testing.T, dbc dbctx.Context, processor string) *domain.CaseProcessorConfig {
	t.Helper()
	orgID := uuid.New()
	c := testutil.SeedCase(t, dbc, orgID, map[string]any{"merchant.name": "X"})
	sub := testutil.SeedSubscription(t, dbc, orgID, processor, nil)
	return testutil.SeedConfig(t, dbc, c, sub, map[string]any{})
}

func TestExecutionLifecycle(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewExecutionRepo(testutil.Logger(t))
	dbc := testutil.Ctx(t, db)
	cfg := seedConfigTree(t, dbc, "merchant_profile")

	e := seedExecution(t, dbc, repo, cfg, "hash-1")
	if e.Status != domain.ExecutionStatusPending {
		t.Fatalf("status = %s", e.Status)
	}

	if err := repo.MarkRunning(dbc, e.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	// A second dispatcher losing the race gets a conflict, not a double run.
	if err := repo.MarkRunning(dbc, e.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	out := datatypes.JSON(`{"legal_name":"X"}`)
	breakdown := datatypes.JSON(`{"profile_normalization":0}`)
	if err := repo.SaveResult(dbc, e.ID, out, 25, breakdown); err != nil {
		t.Fatalf("save result: %v", err)
	}

	got, err := repo.GetByID(dbc, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ExecutionStatusCompleted || got.CostCents != 25 {
		t.Fatalf("got status=%s cost=%d", got.Status, got.CostCents)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("expected timestamps to be set")
	}
}

func TestExecutionMarkFailed(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewExecutionRepo(testutil.Logger(t))
	dbc := testutil.Ctx(t, db)
	cfg := seedConfigTree(t, dbc, "bank_statement")

	e := seedExecution(t, dbc, repo, cfg, "hash-1")

	// Failing a pending execution is illegal.
	if err := repo.MarkFailed(dbc, e.ID, domain.FailureValidation, domain.PhaseValidateInput, "nope"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if err := repo.MarkRunning(dbc, e.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := repo.MarkFailed(dbc, e.ID, domain.FailureValidation, domain.PhaseValidateInput, "need 3 docs"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, _ := repo.GetByID(dbc, e.ID)
	if got.FailureCode != domain.FailureValidation || got.FailurePhase != domain.PhaseValidateInput {
		t.Fatalf("failure attribution = %s/%s", got.FailureCode, got.FailurePhase)
	}
}

func TestExecutionCancelOnlyFromPending(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewExecutionRepo(testutil.Logger(t))
	dbc := testutil.Ctx(t, db)
	cfg := seedConfigTree(t, dbc, "merchant_profile")

	e := seedExecution(t, dbc, repo, cfg, "hash-1")
	if err := repo.Cancel(dbc, e.ID); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}

	e2 := seedExecution(t, dbc, repo, cfg, "hash-2")
	if err := repo.MarkRunning(dbc, e2.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := repo.Cancel(dbc, e2.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict cancelling a running execution, got %v", err)
	}
}

func TestFindCurrentByHash(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewExecutionRepo(testutil.Logger(t))
	dbc := testutil.Ctx(t, db)
	cfg := seedConfigTree(t, dbc, "merchant_profile")

	e := seedExecution(t, dbc, repo, cfg, "hash-1")

	got, err := repo.FindCurrentByHash(dbc, cfg.ID, "hash-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != e.ID {
		t.Fatalf("found %v, want %v", got.ID, e.ID)
	}

	if _, err := repo.FindCurrentByHash(dbc, cfg.ID, "hash-other"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Superseded rows no longer count toward dedup.
	successor := seedExecution(t, dbc, repo, cfg, "hash-2")
	if err := repo.MarkSuperseded(dbc, []uuid.UUID{e.ID}, successor.ID); err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if _, err := repo.FindCurrentByHash(dbc, cfg.ID, "hash-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after supersession, got %v", err)
	}

	// Explicit duplicates do not count either.
	dup := &domain.Execution{
		OrganizationID:        cfg.OrganizationID,
		CaseID:                cfg.CaseID,
		CaseProcessorConfigID: cfg.ID,
		ProcessorName:         cfg.ProcessorName,
		PayloadHash:           "hash-2",
		DuplicateOfID:         &successor.ID,
	}
	if err := repo.Create(dbc, dup); err != nil {
		t.Fatalf("create dup: %v", err)
	}
	got, err = repo.FindCurrentByHash(dbc, cfg.ID, "hash-2")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != successor.ID {
		t.Fatalf("dedup must resolve to the original, got %v", got.ID)
	}
}

func TestMutateCurrentExecutionsConcurrent(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewProcessorConfigRepo(testutil.Logger(t))
	dbc := testutil.Ctx(t, db)
	cfg := seedConfigTree(t, dbc, "drivers_license")

	const writers = 4
	ids := make([]uuid.UUID, writers)
	for i := range ids {
		ids[i] = uuid.New()
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			errs <- repo.MutateCurrentExecutions(dbc, cfg.ID, func(current []uuid.UUID) []uuid.UUID {
				return append(current, id)
			})
		}(ids[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
	}

	got, err := repo.GetByID(dbc, cfg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	current, err := got.CurrentExecutionIDs()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(current) != writers {
		t.Fatalf("expected %d members after concurrent appends, got %d", writers, len(current))
	}
	if got.Version != int64(writers) {
		t.Fatalf("version = %d, want %d", got.Version, writers)
	}
}

func TestSaveConsolidatedLifecycle(t *testing.T) {
	db := testutil.OpenDB(t)
	log := testutil.Logger(t)
	factors := NewFactorRepo(log)
	dbc := testutil.Ctx(t, db)
	cfg := seedConfigTree(t, dbc, "merchant_profile")
	execID := uuid.New()

	// First consolidation creates the factors.
	set := domain.FactorSet{"merchant.legal_name": "ABC Tech Inc", "merchant.ein_valid": true}
	if err := factors.SaveConsolidated(dbc, cfg, &execID, set); err != nil {
		t.Fatalf("save: %v", err)
	}
	active, err := factors.ActiveForConfig(dbc, cfg.ID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d", len(active))
	}

	// Same values again: no new rows.
	if err := factors.SaveConsolidated(dbc, cfg, &execID, set); err != nil {
		t.Fatalf("save again: %v", err)
	}
	history, _ := factors.History(dbc, cfg.CaseID, "merchant.legal_name")
	if len(history) != 1 {
		t.Fatalf("unchanged value must not create a new row, history = %d", len(history))
	}

	// Changed value supersedes and chains.
	set["merchant.legal_name"] = "ABC Technologies Inc"
	if err := factors.SaveConsolidated(dbc, cfg, &execID, set); err != nil {
		t.Fatalf("save changed: %v", err)
	}
	history, _ = factors.History(dbc, cfg.CaseID, "merchant.legal_name")
	if len(history) != 2 {
		t.Fatalf("history = %d", len(history))
	}
	if history[0].Status != domain.FactorStatusSuperseded {
		t.Fatalf("old factor status = %s", history[0].Status)
	}
	if history[1].PreviousFactorID == nil || *history[1].PreviousFactorID != history[0].ID {
		t.Fatal("new factor must chain to its predecessor")
	}

	// Empty set clears everything.
	if err := factors.SaveConsolidated(dbc, cfg, nil, domain.FactorSet{}); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	active, _ = factors.ActiveForConfig(dbc, cfg.ID)
	if len(active) != 0 {
		t.Fatalf("expected no active factors, got %d", len(active))
	}
}

func TestCreateManualSupersedesProcessorFactor(t *testing.T) {
	db := testutil.OpenDB(t)
	log := testutil.Logger(t)
	factors := NewFactorRepo(log)
	dbc := testutil.Ctx(t, db)
	cfg := seedConfigTree(t, dbc, "merchant_profile")

	if err := factors.SaveConsolidated(dbc, cfg, nil, domain.FactorSet{"merchant.legal_name": "Wrong Name LLC"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, _ := json.Marshal("Right Name LLC")
	manual := &domain.Factor{
		OrganizationID: cfg.OrganizationID,
		CaseID:         cfg.CaseID,
		FactorKey:      "merchant.legal_name",
		Value:          datatypes.JSON(raw),
	}
	if err := factors.CreateManual(dbc, manual); err != nil {
		t.Fatalf("manual: %v", err)
	}

	active, _ := factors.ActiveForCase(dbc, cfg.CaseID)
	if len(active) != 1 {
		t.Fatalf("active = %d", len(active))
	}
	if active[0].Source != domain.FactorSourceManual {
		t.Fatalf("source = %s", active[0].Source)
	}
	if active[0].PreviousFactorID == nil {
		t.Fatal("manual factor must chain to the processor factor it replaces")
	}
}

func TestSaveConsolidatedKeepsManualOverride(t *testing.T) {
	db := testutil.OpenDB(t)
	log := testutil.Logger(t)
	factors := NewFactorRepo(log)
	dbc := testutil.Ctx(t, db)
	cfg := seedConfigTree(t, dbc, "merchant_profile")

	set := domain.FactorSet{"merchant.legal_name": "ABC Tech Inc", "merchant.ein_valid": true}
	if err := factors.SaveConsolidated(dbc, cfg, nil, set); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, _ := json.Marshal("Corrected Name LLC")
	manual := &domain.Factor{
		OrganizationID: cfg.OrganizationID,
		CaseID:         cfg.CaseID,
		FactorKey:      "merchant.legal_name",
		Value:          datatypes.JSON(raw),
	}
	if err := factors.CreateManual(dbc, manual); err != nil {
		t.Fatalf("manual: %v", err)
	}

	// Reconsolidating must not stand a processor row back up next to the
	// manual one.
	if err := factors.SaveConsolidated(dbc, cfg, nil, set); err != nil {
		t.Fatalf("save after override: %v", err)
	}

	active, err := factors.ActiveForCase(dbc, cfg.CaseID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	byKey := map[string][]domain.Factor{}
	for _, f := range active {
		byKey[f.FactorKey] = append(byKey[f.FactorKey], f)
	}
	names := byKey["merchant.legal_name"]
	if len(names) != 1 {
		t.Fatalf("active rows for merchant.legal_name = %d, want 1", len(names))
	}
	if names[0].Source != domain.FactorSourceManual {
		t.Fatalf("source = %s, manual override must win", names[0].Source)
	}
	var got string
	if err := json.Unmarshal(names[0].Value, &got); err != nil || got != "Corrected Name LLC" {
		t.Fatalf("value = %q err=%v", got, err)
	}
	// Keys without an override are still reconciled normally.
	if len(byKey["merchant.ein_valid"]) != 1 {
		t.Fatalf("ein_valid rows = %d", len(byKey["merchant.ein_valid"]))
	}
}

func TestFactorScalarValueRoundTrip(t *testing.T) {
	db := testutil.OpenDB(t)
	factors := NewFactorRepo(testutil.Logger(t))
	dbc := testutil.Ctx(t, db)
	cfg := seedConfigTree(t, dbc, "bank_statement")

	// A bare numeric value must come back as the JSON it went in as.
	set := domain.FactorSet{"bank.average_monthly_deposits": 3000.0}
	if err := factors.SaveConsolidated(dbc, cfg, nil, set); err != nil {
		t.Fatalf("save: %v", err)
	}

	active, err := factors.ActiveForCase(dbc, cfg.CaseID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active = %d", len(active))
	}
	var got float64
	if err := json.Unmarshal(active[0].Value, &got); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if got != 3000.0 {
		t.Fatalf("value = %v", got)
	}
}

func TestSubscriptionRepo(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewSubscriptionRepo(testutil.Logger(t))
	dbc := testutil.Ctx(t, db)

	orgID := uuid.New()
	s := testutil.SeedSubscription(t, dbc, orgID, "bank_statement", map[string]any{"minimum_documents": 2})

	got, err := repo.GetByOrgAndProcessor(dbc, orgID, "bank_statement")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != s.ID {
		t.Fatalf("got %v", got.ID)
	}

	if err := repo.SetActive(dbc, s.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, err := repo.ListActiveForOrg(dbc, orgID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active subscriptions, got %d", len(active))
	}
}
