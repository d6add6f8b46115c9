package nifi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/restclient"
	"github.com/cafex/cafex/framework/wait"
)

type fakeProcessor struct {
	Name    string
	Parent  string
	State   string
	Version int64
	Threads int
	Props   map[string]any
}

type fakeConnection struct {
	ID, Name, Source, Destination, Group string
}

type fakeNiFi struct {
	mu          sync.Mutex
	processors  map[string]*fakeProcessor
	groups      map[string][2]string // id -> {name, parent}
	connections []fakeConnection
	groupState  map[string]string
	rpgState    string
	dropped     []string
	token       string
}

func newFakeNiFi() *fakeNiFi {
	return &fakeNiFi{
		processors: map[string]*fakeProcessor{
			"proc-1": {Name: "GenerateFlowFile", Parent: "pg-1", State: StateStopped, Props: map[string]any{"File Size": "0B"}},
			"proc-2": {Name: "PutFile", Parent: "pg-2", State: StateStopped},
		},
		groups: map[string][2]string{
			"pg-1": {"ingest", RootGroup},
			"pg-2": {"landing", "pg-1"},
		},
		connections: []fakeConnection{
			{ID: "conn-1", Name: "success", Source: "proc-1", Destination: "proc-2", Group: "pg-1"},
			{ID: "conn-2", Name: "", Source: "proc-0", Destination: "proc-1", Group: "pg-1"},
		},
		groupState: map[string]string{},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeNiFi) processorEntity(id string, p *fakeProcessor) map[string]any {
	runStatus := "Stopped"
	switch p.State {
	case StateRunning:
		runStatus = "Running"
	case StateDisabled:
		runStatus = "Disabled"
	}
	return map[string]any{
		"id":       id,
		"revision": map[string]any{"clientId": "client", "version": p.Version},
		"component": map[string]any{
			"id": id, "name": p.Name, "parentGroupId": p.Parent, "state": p.State,
			"config": map[string]any{"properties": p.Props},
		},
		"status": map[string]any{
			"runStatus": runStatus,
			"aggregateSnapshot": map[string]any{
				"runStatus": runStatus, "activeThreadCount": p.Threads, "queuedCount": "3",
			},
		},
	}
}

func (f *fakeNiFi) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /nifi-api/flow/about", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"about": map[string]any{"title": "NiFi", "version": "1.23.2"}})
	})
	mux.HandleFunc("GET /nifi-api/access/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"config": map[string]any{"supportsLogin": true}})
	})
	mux.HandleFunc("POST /nifi-api/access/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("username") != "admin" || r.PostForm.Get("password") != "pw" {
			http.Error(w, "invalid credentials", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("tok-123"))
	})
	mux.HandleFunc("GET /nifi-api/flow/processors/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		p, ok := f.processors[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		e := f.processorEntity(r.PathValue("id"), p)
		writeJSON(w, http.StatusOK, map[string]any{"processorStatus": map[string]any{"name": p.Name, "runStatus": e["status"].(map[string]any)["runStatus"], "aggregateSnapshot": e["status"].(map[string]any)["aggregateSnapshot"]}})
	})
	mux.HandleFunc("GET /nifi-api/flow/process-groups/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		g, ok := f.groups[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"processGroupStatus": map[string]any{"name": g[0], "aggregateSnapshot": map[string]any{"queuedCount": "5"}}})
	})
	mux.HandleFunc("PUT /nifi-api/flow/process-groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.groupState[r.PathValue("id")] = body["state"].(string)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, body)
	})
	mux.HandleFunc("GET /nifi-api/processors/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		p, ok := f.processors[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		e := f.processorEntity(r.PathValue("id"), p)
		if p.Threads > 0 && p.State != StateRunning {
			p.Threads--
		}
		writeJSON(w, http.StatusOK, e)
	})
	mux.HandleFunc("PUT /nifi-api/processors/{id}/run-status", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Revision Revision `json:"revision"`
			State    string   `json:"state"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		defer f.mu.Unlock()
		p := f.processors[r.PathValue("id")]
		if body.Revision.Version != p.Version {
			http.Error(w, "stale revision", http.StatusConflict)
			return
		}
		p.Version++
		if p.State == StateRunning && body.State != StateRunning && p.Threads == 0 {
			p.Threads = 2
		}
		p.State = body.State
		writeJSON(w, http.StatusOK, f.processorEntity(r.PathValue("id"), p))
	})
	mux.HandleFunc("PUT /nifi-api/processors/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Revision  Revision `json:"revision"`
			Component struct {
				Config struct {
					Properties map[string]any `json:"properties"`
				} `json:"config"`
			} `json:"component"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		defer f.mu.Unlock()
		p := f.processors[r.PathValue("id")]
		p.Version++
		for k, v := range body.Component.Config.Properties {
			p.Props[k] = v
		}
		writeJSON(w, http.StatusOK, f.processorEntity(r.PathValue("id"), p))
	})
	mux.HandleFunc("GET /nifi-api/process-groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		g, ok := f.groups[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":        r.PathValue("id"),
			"component": map[string]any{"name": g[0], "parentGroupId": g[1]},
			"status":    map[string]any{"aggregateSnapshot": map[string]any{"queuedCount": "5"}},
		})
	})
	mux.HandleFunc("GET /nifi-api/process-groups/{id}/{kind}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		parent := r.PathValue("id")
		var items []any
		switch r.PathValue("kind") {
		case "process-groups":
			for id, g := range f.groups {
				if g[1] == parent {
					items = append(items, map[string]any{"id": id, "component": map[string]any{"id": id, "name": g[0]}})
				}
			}
			writeJSON(w, http.StatusOK, map[string]any{"processGroups": items})
		case "processors":
			for id, p := range f.processors {
				if p.Parent == parent {
					items = append(items, f.processorEntity(id, p))
				}
			}
			writeJSON(w, http.StatusOK, map[string]any{"processors": items})
		case "connections":
			for _, c := range f.connections {
				if c.Group == parent {
					items = append(items, map[string]any{
						"id": c.ID, "sourceId": c.Source, "destinationId": c.Destination,
						"component": map[string]any{"name": c.Name},
					})
				}
			}
			writeJSON(w, http.StatusOK, map[string]any{"connections": items})
		case "remote-process-groups":
			if parent == "pg-1" {
				items = append(items, map[string]any{"id": "rpg-1", "component": map[string]any{"targetUri": "https://remote:8443/nifi"}})
			}
			writeJSON(w, http.StatusOK, map[string]any{"remoteProcessGroups": items})
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("GET /nifi-api/remote-process-groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "revision": map[string]any{"version": 4}})
	})
	mux.HandleFunc("PUT /nifi-api/remote-process-groups/{id}/run-status", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Revision Revision `json:"revision"`
			State    string   `json:"state"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(4), body.Revision.Version)
		f.mu.Lock()
		f.rpgState = body.State
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("POST /nifi-api/flowfile-queues/{id}/listing-requests", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]any{"listingRequest": map[string]any{"id": "lr-1", "finished": false}})
	})
	mux.HandleFunc("GET /nifi-api/flowfile-queues/{id}/listing-requests/{rid}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"listingRequest": map[string]any{
			"id": r.PathValue("rid"), "finished": true,
			"flowFileSummaries": []any{
				map[string]any{"uuid": "ff-1", "filename": "a.csv", "size": 10, "position": 1},
				map[string]any{"uuid": "ff-2", "filename": "b.csv", "size": 20, "position": 2},
			},
		}})
	})
	mux.HandleFunc("DELETE /nifi-api/flowfile-queues/{id}/listing-requests/{rid}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("POST /nifi-api/flowfile-queues/{id}/drop-requests", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.dropped = append(f.dropped, r.PathValue("id"))
		f.mu.Unlock()
		writeJSON(w, http.StatusAccepted, map[string]any{"dropRequest": map[string]any{"id": "dr-1", "finished": false}})
	})
	mux.HandleFunc("GET /nifi-api/flowfile-queues/{id}/drop-requests/{rid}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"dropRequest": map[string]any{"id": r.PathValue("rid"), "finished": true}})
	})
	mux.HandleFunc("DELETE /nifi-api/flowfile-queues/{id}/drop-requests/{rid}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.token = r.Header.Get("Authorization")
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	})
}

func newTestClient(t *testing.T) (*Client, *fakeNiFi, *report.Run) {
	t.Helper()
	fake := newFakeNiFi()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	run := report.NewRun("nifi")
	return New(srv.URL, WithRecorder(run), WithPolling(5*time.Millisecond, time.Second)), fake, run
}

func TestNew_AppendsAPIPath(t *testing.T) {
	assert.Equal(t, "http://nifi:8080/nifi-api", New("http://nifi:8080/").BaseURL())
	assert.Equal(t, "http://nifi:8080/nifi-api", New("http://nifi:8080/nifi-api").BaseURL())
}

func TestAboutAndAccessConfig(t *testing.T) {
	c, _, run := newTestClient(t)
	ctx := context.Background()

	about, err := c.AboutNifi(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.23.2", about.Version)

	cfg, err := c.GetAccessConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, cfg["supportsLogin"])
	assert.True(t, run.Passed())
}

func TestGetSecurityToken(t *testing.T) {
	c, fake, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.GetSecurityToken(ctx, "admin", "wrong")
	assert.Equal(t, http.StatusBadRequest, restclient.StatusCode(err))

	token, err := c.GetSecurityToken(ctx, "admin", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	_, err = c.AboutNifi(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", fake.token)

	_, err = c.GetSecurityToken(ctx, "", "pw")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCheckProcessorStatus(t *testing.T) {
	c, _, run := newTestClient(t)
	ctx := context.Background()

	st, err := c.CheckProcessorStatus(ctx, "proc-1")
	require.NoError(t, err)
	assert.Equal(t, "GenerateFlowFile", st.Name)
	assert.Equal(t, "Stopped", st.RunStatus)
	assert.Equal(t, int64(3), st.QueuedCount)

	_, err = c.CheckProcessorStatus(ctx, "ghost")
	require.ErrorIs(t, err, ErrEmptyResponse)
	assert.False(t, run.Passed())

	_, err = c.CheckProcessorStatus(ctx, "")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestChangeNifiProcessorState_UsesCurrentRevision(t *testing.T) {
	c, fake, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.ChangeNifiProcessorState(ctx, "proc-1", StateRunning))
	require.NoError(t, c.ChangeNifiProcessorState(ctx, "proc-1", StateStopped))
	assert.Equal(t, int64(2), fake.processors["proc-1"].Version)

	err := c.ChangeNifiProcessorState(ctx, "proc-1", "PAUSED")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestChangeProcessorState_RawPayload(t *testing.T) {
	c, fake, _ := newTestClient(t)
	err := c.ChangeProcessorState(context.Background(), `{"revision":{"version":0},"state":"DISABLED"}`, "proc-1")
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, fake.processors["proc-1"].State)

	err = c.ChangeProcessorState(context.Background(), `{not json`, "proc-1")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStartThenStopProcessor(t *testing.T) {
	c, fake, run := newTestClient(t)
	ctx := context.Background()

	err := c.StartThenStopProcessor(ctx, "proc-1", time.Millisecond, time.Second, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)

	run = report.NewRun("again")
	c.recorder = run
	require.NoError(t, c.StartThenStopProcessor(ctx, "proc-1", time.Millisecond, time.Second, 5*time.Millisecond))
	assert.Equal(t, StateStopped, fake.processors["proc-1"].State)
	assert.Zero(t, fake.processors["proc-1"].Threads)
	assert.True(t, run.Passed())
}

func TestStartThenStopProcessor_Timeout(t *testing.T) {
	c, fake, run := newTestClient(t)
	fake.processors["proc-1"].Threads = 1000

	err := c.StartThenStopProcessor(context.Background(), "proc-1", 0, 20*time.Millisecond, 5*time.Millisecond)
	require.ErrorIs(t, err, wait.ErrTimeout)
	assert.False(t, run.Passed())
}

func TestEnableDisableProcessor(t *testing.T) {
	c, fake, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.DisableProcessor(ctx, "proc-1"))
	assert.Equal(t, StateDisabled, fake.processors["proc-1"].State)

	require.NoError(t, c.EnableProcessor(ctx, "proc-1"))
	assert.Equal(t, StateStopped, fake.processors["proc-1"].State)
}

func TestProcessorProperties(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.UpdateProcessorProperties(ctx, "proc-1", map[string]any{"Batch Size": "10"}))
	props, err := c.GetProcessorProperties(ctx, "proc-1")
	require.NoError(t, err)
	assert.Equal(t, "10", props["Batch Size"])
	assert.Equal(t, "0B", props["File Size"])

	require.ErrorIs(t, c.UpdateProcessorProperties(ctx, "proc-1", nil), ErrInvalidArgument)
}

func TestLookupsByName(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	id, err := c.GetProcessorID(ctx, "PutFile", "")
	require.NoError(t, err)
	assert.Equal(t, "proc-2", id)

	id, err = c.GetProcessGroupID(ctx, "landing", RootGroup)
	require.NoError(t, err)
	assert.Equal(t, "pg-2", id)

	_, err = c.GetProcessorID(ctx, "Missing", "")
	require.ErrorIs(t, err, ErrNotFound)

	names, err := c.GetProcessors(ctx, "pg-1", "component/name")
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"GenerateFlowFile", "PutFile"}, names)

	groups, err := c.GetProcessGroups(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	conns, err := c.ListConnections(ctx, "pg-1", "id")
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"conn-1", "conn-2"}, conns)

	rpgs, err := c.GetRemoteProcessGroups(ctx, RootGroup, "component/targetUri")
	require.NoError(t, err)
	assert.Equal(t, []any{"https://remote:8443/nifi"}, rpgs)
}

func TestProcessGroupState(t *testing.T) {
	c, fake, _ := newTestClient(t)
	ctx := context.Background()

	st, err := c.CheckProcessGroupStatus(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, "ingest", st.Name)

	require.NoError(t, c.StartThenStopProcessGroup(ctx, "pg-1", time.Millisecond))
	assert.Equal(t, StateStopped, fake.groupState["pg-1"])

	n, err := c.GetProcessGroupQueueCount(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = c.GetProcessorQueueCount(ctx, "proc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, c.ChangeRemoteProcessGroupState(ctx, "rpg-1", true))
	assert.Equal(t, StateTransmitting, fake.rpgState)
}

func TestGetComponentConnections(t *testing.T) {
	c, _, _ := newTestClient(t)

	conns, err := c.GetComponentConnections(context.Background(), "proc-1")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"success": {"conn-1"}}, conns.Source)
	assert.Equal(t, map[string][]string{"conn-2": {"conn-2"}}, conns.Destination)

	src, dst := conns.Single()
	assert.Equal(t, "conn-1", src["success"])
	assert.Equal(t, "conn-2", dst["conn-2"])
}

func TestQueues(t *testing.T) {
	c, fake, _ := newTestClient(t)
	ctx := context.Background()

	files, err := c.GetFlowFilesQueueDetails(ctx, "conn-1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b.csv", files[1].Filename)

	n, err := c.GetFlowFileCount(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, c.ClearQueues(ctx, "proc-1", true, false))
	assert.Equal(t, []string{"conn-2"}, fake.dropped)

	require.NoError(t, c.ClearQueues(ctx, "proc-1", false, true))
	assert.Equal(t, []string{"conn-2", "conn-1"}, fake.dropped)
}

func TestGetKeyPathValue(t *testing.T) {
	v, err := GetKeyPathValue(`{"status":{"aggregateSnapshot":{"queuedCount":"7"}}}`, "status/aggregateSnapshot/queuedCount")
	require.NoError(t, err)
	assert.Equal(t, "7", v)
}
