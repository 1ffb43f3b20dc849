package repo_test

import (
	"context"
	"errors"
	"testing"

	"coordline/internal/db"
	"coordline/internal/domain"
	"coordline/internal/migrate"
	"coordline/internal/repo"
)

const now = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn, Driver: db.DriverSQLite}
}

func ptr(s string) *string { return &s }

func seedTree(t *testing.T, r repo.Repo) {
	t.Helper()
	ctx := context.Background()
	tasks := []domain.Task{
		{ID: "root", Title: "Besturen vereniging", Points: 3000, Status: domain.StatusToegewezen, OwnCoordinatorAliases: []string{"Bestuur"}},
		{ID: "penn", ParentID: ptr("root"), Title: "Penningmeester", Points: 600, Status: domain.StatusBeschikbaar},
		{ID: "kas", ParentID: ptr("penn"), Title: "Kascontrole", Points: 100, Status: domain.StatusBeschikbaar},
	}
	for _, task := range tasks {
		task.CreatedAt, task.UpdatedAt = now, now
		if err := r.InsertTask(ctx, nil, task); err != nil {
			t.Fatalf("insert %s: %v", task.ID, err)
		}
	}
}

func TestSnapshotAndAncestry(t *testing.T) {
	r := newRepo(t)
	seedTree(t, r)
	ctx := context.Background()

	snap, err := r.LoadSnapshot(ctx, nil)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap) != 3 || snap["root"].OwnCoordinatorAliases[0] != "Bestuur" || *snap["kas"].ParentID != "penn" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	anc, err := r.LoadAncestry(ctx, nil, "kas")
	if err != nil {
		t.Fatalf("ancestry: %v", err)
	}
	if len(anc) != 3 {
		t.Fatalf("ancestry should hold the chain, got %d nodes", len(anc))
	}
	anc, err = r.LoadAncestry(ctx, nil, "penn")
	if err != nil || len(anc) != 2 {
		t.Fatalf("ancestry of penn: %v %d", err, len(anc))
	}
}

func TestSingleRootEnforced(t *testing.T) {
	r := newRepo(t)
	seedTree(t, r)
	err := r.InsertTask(context.Background(), nil, domain.Task{ID: "root2", Title: "other", Status: domain.StatusBeschikbaar, CreatedAt: now, UpdatedAt: now})
	if !repo.IsUniqueViolation(err) {
		t.Fatalf("second root should violate uniqueness, got %v", err)
	}
}

func TestOptimisticWrites(t *testing.T) {
	r := newRepo(t)
	seedTree(t, r)
	ctx := context.Background()

	task, err := r.GetTask(ctx, nil, "penn")
	if err != nil {
		t.Fatal(err)
	}
	task.Title = "Treasurer"
	updated, err := r.UpdateTask(ctx, nil, task)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != task.Version+1 {
		t.Fatalf("version not bumped: %d", updated.Version)
	}
	if _, err := r.UpdateTask(ctx, nil, task); !errors.Is(err, repo.ErrStale) {
		t.Fatalf("stale update should fail, got %v", err)
	}
	task.ID = "ghost"
	if _, err := r.UpdateTask(ctx, nil, task); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing task, got %v", err)
	}

	if err := r.DebitPoints(ctx, nil, "root", 2999, 600, now); !errors.Is(err, repo.ErrStale) {
		t.Fatalf("debit with wrong expected points should be stale, got %v", err)
	}
	if err := r.DebitPoints(ctx, nil, "root", 3000, 600, now); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := r.DebitPoints(ctx, nil, "root", 3000, 600, now); !errors.Is(err, repo.ErrStale) {
		t.Fatalf("second debit against the same read must fail, got %v", err)
	}
	root, _ := r.GetTask(ctx, nil, "root")
	if root.Points != 2400 {
		t.Fatalf("root points %d", root.Points)
	}
}

func TestProposalUniqueness(t *testing.T) {
	r := newRepo(t)
	seedTree(t, r)
	ctx := context.Background()
	p := domain.OpenTask{ID: "p1", TaskID: "penn", ProposerAlias: "vera", ProposedAlias: ptr("vera"), Status: domain.ProposalOpen, CreatedAt: now}
	if err := r.InsertTaskProposal(ctx, nil, p); err != nil {
		t.Fatal(err)
	}
	p.ID = "p2"
	if err := r.InsertTaskProposal(ctx, nil, p); !repo.IsUniqueViolation(err) {
		t.Fatalf("second open proposal should be rejected, got %v", err)
	}
	if err := r.SetTaskProposalStatus(ctx, nil, "p1", domain.ProposalOpen, domain.ProposalAfgewezen); err != nil {
		t.Fatal(err)
	}
	// a rejected proposal no longer blocks a fresh one
	if err := r.InsertTaskProposal(ctx, nil, p); err != nil {
		t.Fatalf("new proposal after rejection: %v", err)
	}
	if err := r.DeleteTaskProposal(ctx, nil, "p1", domain.ProposalOpen); !errors.Is(err, repo.ErrStale) {
		t.Fatalf("delete with wrong status should be stale, got %v", err)
	}
	n, err := r.DeleteProposalsForTasks(ctx, nil, []string{"penn"})
	if err != nil || n != 2 {
		t.Fatalf("delete for tasks: %d %v", n, err)
	}
}

func TestRenameActor(t *testing.T) {
	r := newRepo(t)
	seedTree(t, r)
	ctx := context.Background()
	for _, a := range []string{"Bestuur", "vera"} {
		if err := r.InsertActor(ctx, nil, a, now); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.InsertActor(ctx, nil, "VERA", now); !repo.IsUniqueViolation(err) {
		t.Fatalf("aliases are unique ignoring case, got %v", err)
	}
	if err := r.GrantRole(ctx, nil, "Bestuur", domain.RoleBestuur, now); err != nil {
		t.Fatal(err)
	}
	if err := r.RenameActor(ctx, nil, "Bestuur", "Board"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	root, _ := r.GetTask(ctx, nil, "root")
	if len(root.OwnCoordinatorAliases) != 1 || root.OwnCoordinatorAliases[0] != "Board" {
		t.Fatalf("coordinators not renamed: %v", root.OwnCoordinatorAliases)
	}
	if ok, _ := r.HasRole(ctx, nil, "Board", domain.RoleBestuur); !ok {
		t.Fatalf("role not carried over")
	}
	if err := r.RenameActor(ctx, nil, "Board", "VERA"); !repo.IsUniqueViolation(err) {
		t.Fatalf("rename onto a taken alias must fail, got %v", err)
	}
	if err := r.RenameActor(ctx, nil, "nobody", "x1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown actor, got %v", err)
	}
}
