package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"coordline/internal/config"
	"coordline/internal/db"
	"coordline/internal/domain"
	"coordline/internal/engine"
	"coordline/internal/migrate"
)

const (
	board  = "Bestuur"
	secret = "test-secret"
)

type testServer struct {
	URL    string
	Root   domain.Task
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("Vereniging", board)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, db.DriverSQLite, cfg)
	root, err := e.Bootstrap(context.Background(), engine.SystemActor)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: secret, AllowActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Root:   root,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(alias string) map[string]string {
	return map[string]string{ActorHeader: alias}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func createTask(t *testing.T, srv *testServer, parentID, title string, points int, actor string) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"parent_id": parentID,
		"title":     title,
		"points":    points,
	}, as(actor))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create %s: %d %s", title, res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %s", code)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d %s", res.StatusCode, string(data))
	}
}

func TestJWTPrincipal(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	token, err := IssueToken(secret, board, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me MeResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.Alias != board || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}
	if len(me.Roles) != 1 || me.Roles[0] != domain.RoleBestuur {
		t.Fatalf("expected bestuur role, got %v", me.Roles)
	}
}

func TestCreateAndReadTask(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	task := createTask(t, srv, srv.Root.ID, "Penningmeester", 600, board)
	if task.Points != 600 || task.ParentID == nil || *task.ParentID != srv.Root.ID {
		t.Fatalf("unexpected task %+v", task)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, as("Jan"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get: %d %s", res.StatusCode, string(data))
	}
	var view engine.TaskView
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if len(view.EffectiveCoordinators) != 1 || view.EffectiveCoordinators[0] != board {
		t.Fatalf("expected inherited coordinators, got %v", view.EffectiveCoordinators)
	}
	for _, p := range view.Permissions {
		if p == domain.PermManage {
			t.Fatalf("outsider must not manage: %v", view.Permissions)
		}
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"parent_id": srv.Root.ID,
		"title":     "Sneaky",
		"points":    1,
	}, as("Jan"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("expected forbidden code, got %s", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/missing", nil, as(board))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestMoveRejectsCycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	parent := createTask(t, srv, srv.Root.ID, "Commissies", 1000, board)
	child := createTask(t, srv, parent.ID, "Feestcommissie", 200, board)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+parent.ID+"/move", map[string]any{
		"new_parent_id": child.ID,
	}, as(board))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}

	other := createTask(t, srv, srv.Root.ID, "Kascommissie", 300, board)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+child.ID+"/move", map[string]any{
		"new_parent_id": other.ID,
	}, as(board))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move: %d %s", res.StatusCode, string(data))
	}
	var moved engine.MoveResult
	if err := json.Unmarshal(data, &moved); err != nil {
		t.Fatalf("unmarshal move: %v", err)
	}
	if !moved.Transfer.Transferable || moved.Transfer.SourceParentPointsAfter != 800 || moved.Transfer.TargetParentPointsAfter != 500 {
		t.Fatalf("unexpected transfer %+v", moved.Transfer)
	}
}

func TestProposalRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	task := createTask(t, srv, srv.Root.ID, "Secretaris", 100, board)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/proposals/register", nil, as("Jan"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %s", res.StatusCode, string(data))
	}
	var p domain.OpenTask
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal proposal: %v", err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/proposals/"+p.ID+"/decision", map[string]any{"accept": true}, as("Jan"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("proposer must not decide, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/proposals", nil, as(board))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var queue []engine.ProposalView
	if err := json.Unmarshal(data, &queue); err != nil {
		t.Fatalf("unmarshal queue: %v", err)
	}
	if len(queue) != 1 || !queue[0].CanDecide {
		t.Fatalf("expected one decidable proposal, got %+v", queue)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/proposals/"+p.ID+"/decision", map[string]any{"accept": true}, as(board))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("decide: %d %s", res.StatusCode, string(data))
	}
	var d engine.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if !d.Accepted || d.Task == nil || d.Task.Status != domain.StatusToegewezen {
		t.Fatalf("unexpected decision %+v", d)
	}
	if len(d.Task.OwnCoordinatorAliases) != 1 || d.Task.OwnCoordinatorAliases[0] != "Jan" {
		t.Fatalf("expected Jan as coordinator, got %v", d.Task.OwnCoordinatorAliases)
	}
}

func TestEventsPaging(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	for _, title := range []string{"A", "B", "C"} {
		createTask(t, srv, srv.Root.ID, title, 10, board)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?action_type=task.create&limit=2", nil, as(board))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full first page with cursor, got %+v", page)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?action_type=task.create&limit=2&cursor="+page.NextCursor, nil, as(board))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2: %d %s", res.StatusCode, string(data))
	}
	var next paginatedEvents
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(next.Items) != 1 || next.NextCursor != "" {
		t.Fatalf("expected last page with one item, got %+v", next)
	}
}

func TestOpenAPIConcurrentFirstFetch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	bodies := make(chan []byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/openapi.json", nil)
			if err != nil {
				errs <- err
				return
			}
			req.Header.Set(ActorHeader, board)
			res, err := srv.Client().Do(req)
			if err != nil {
				errs <- err
				return
			}
			defer res.Body.Close()
			data, err := io.ReadAll(res.Body)
			if err != nil {
				errs <- err
				return
			}
			if res.StatusCode != http.StatusOK {
				errs <- fmt.Errorf("status %d: %s", res.StatusCode, string(data))
				return
			}
			bodies <- data
		}()
	}
	wg.Wait()
	close(errs)
	close(bodies)
	for err := range errs {
		t.Fatalf("fetch openapi: %v", err)
	}
	var first []byte
	for data := range bodies {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatalf("openapi is not json: %v", err)
		}
		if first == nil {
			first = data
		} else if !bytes.Equal(first, data) {
			t.Fatalf("concurrent fetches returned different documents")
		}
	}
}
