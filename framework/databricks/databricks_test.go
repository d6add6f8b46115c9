package databricks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cafex/cafex/framework/database"
	"github.com/cafex/cafex/framework/report"
	"github.com/cafex/cafex/framework/wait"
)

type fakeWorkspace struct {
	mu          sync.Mutex
	files       map[string][]byte
	notebooks   map[string]string
	clusterCall []string
	runStates   []RunState
	polls       int
	contexts    int
	commands    []map[string]string
	basicUser   string
	lastRunNow  map[string]any
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		files:     map[string][]byte{"/FileStore/data/a.csv": []byte("id,name\n1,ada\n")},
		notebooks: map[string]string{},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request) map[string]any {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body
}

func (f *fakeWorkspace) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer dapi-token" {
				if user, _, ok := r.BasicAuth(); ok {
					f.mu.Lock()
					f.basicUser = user
					f.mu.Unlock()
				} else {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error_code": "UNAUTHENTICATED"})
					return
				}
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			h(w, r)
		}
	}

	mux.HandleFunc("GET /api/2.0/dbfs/list", authed(func(w http.ResponseWriter, r *http.Request) {
		var files []map[string]any
		for p, data := range f.files {
			if filepath.Dir(p) == r.URL.Query().Get("path") {
				files = append(files, map[string]any{"path": p, "is_dir": false, "file_size": len(data)})
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": files})
	}))
	mux.HandleFunc("POST /api/2.0/dbfs/put", authed(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("filefield")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		path := r.FormValue("path")
		if _, exists := f.files[path]; exists && r.FormValue("overwrite") != "true" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": "RESOURCE_ALREADY_EXISTS"})
			return
		}
		f.files[path] = data
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	mux.HandleFunc("GET /api/2.0/dbfs/read", authed(func(w http.ResponseWriter, r *http.Request) {
		data, ok := f.files[r.URL.Query().Get("path")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error_code": "RESOURCE_DOES_NOT_EXIST"})
			return
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		length, _ := strconv.Atoi(r.URL.Query().Get("length"))
		end := min(offset+length, len(data))
		chunk := data[offset:end]
		writeJSON(w, http.StatusOK, map[string]any{"bytes_read": len(chunk), "data": base64.StdEncoding.EncodeToString(chunk)})
	}))
	mux.HandleFunc("POST /api/2.0/dbfs/delete", authed(func(w http.ResponseWriter, r *http.Request) {
		delete(f.files, decode(r)["path"].(string))
		writeJSON(w, http.StatusOK, map[string]any{})
	}))

	mux.HandleFunc("POST /api/2.0/workspace/import", authed(func(w http.ResponseWriter, r *http.Request) {
		body := decode(r)
		content, _ := base64.StdEncoding.DecodeString(body["content"].(string))
		assert.Equal(t, "SOURCE", body["format"])
		f.notebooks[body["path"].(string)] = body["language"].(string) + ":" + string(content)
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	mux.HandleFunc("GET /api/2.0/workspace/get-status", authed(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := f.notebooks[r.URL.Query().Get("path")]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error_code": "RESOURCE_DOES_NOT_EXIST"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"object_type": "NOTEBOOK", "path": r.URL.Query().Get("path")})
	}))
	mux.HandleFunc("POST /api/2.0/workspace/delete", authed(func(w http.ResponseWriter, r *http.Request) {
		delete(f.notebooks, decode(r)["path"].(string))
		writeJSON(w, http.StatusOK, map[string]any{})
	}))

	mux.HandleFunc("GET /api/2.0/clusters/list", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"clusters": []map[string]any{
			{"cluster_id": "0107-192239-lobed1", "cluster_name": "ETL Cluster", "state": "RUNNING"},
			{"cluster_id": "0107-192239-spare2", "cluster_name": "adhoc", "state": "TERMINATED"},
		}})
	}))
	mux.HandleFunc("GET /api/2.0/clusters/get", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"cluster_id": r.URL.Query().Get("cluster_id"), "state": "RUNNING", "num_workers": 2})
	}))
	for _, action := range []string{"start", "restart", "delete", "permanent-delete"} {
		mux.HandleFunc("POST /api/2.0/clusters/"+action, authed(func(w http.ResponseWriter, r *http.Request) {
			f.clusterCall = append(f.clusterCall, action+":"+decode(r)["cluster_id"].(string))
			writeJSON(w, http.StatusOK, map[string]any{})
		}))
	}
	mux.HandleFunc("POST /api/2.0/clusters/create", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"cluster_id": "new-cluster"})
	}))

	mux.HandleFunc("GET /api/2.0/jobs/list", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []map[string]any{
			{"job_id": 11, "settings": map[string]any{"name": "Nightly Load"}},
			{"job_id": 12, "settings": map[string]any{"name": "cleanup"}},
		}})
	}))
	mux.HandleFunc("GET /api/2.0/jobs/get", authed(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.URL.Query().Get("job_id"))
		writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "settings": map[string]any{"name": "Nightly Load"}})
	}))
	mux.HandleFunc("POST /api/2.0/jobs/create", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"job_id": 99})
	}))
	mux.HandleFunc("POST /api/2.0/jobs/delete", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	mux.HandleFunc("POST /api/2.0/jobs/run-now", authed(func(w http.ResponseWriter, r *http.Request) {
		f.lastRunNow = decode(r)
		writeJSON(w, http.StatusOK, map[string]any{"run_id": 501, "number_in_job": 1})
	}))
	mux.HandleFunc("GET /api/2.0/jobs/runs/get-output", authed(func(w http.ResponseWriter, r *http.Request) {
		state := f.runStates[min(f.polls, len(f.runStates)-1)]
		f.polls++
		writeJSON(w, http.StatusOK, map[string]any{"metadata": map[string]any{"run_id": 501, "state": state}})
	}))
	mux.HandleFunc("GET /api/2.0/jobs/runs/list", authed(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "11", r.URL.Query().Get("job_id"))
		writeJSON(w, http.StatusOK, map[string]any{"runs": []map[string]any{{"run_id": 1}, {"run_id": 2}}})
	}))

	mux.HandleFunc("POST /api/2.0/token/create", authed(func(w http.ResponseWriter, r *http.Request) {
		body := decode(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"token_value": "dapi-new",
			"token_info":  map[string]any{"token_id": "tok-1", "comment": body["comment"]},
		})
	}))
	mux.HandleFunc("GET /api/2.0/token/list", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"token_infos": []map[string]any{{"token_id": "tok-1"}, {"token_id": "tok-2"}}})
	}))
	mux.HandleFunc("POST /api/2.0/token/delete", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	}))

	mux.HandleFunc("POST /api/1.2/contexts/create", authed(func(w http.ResponseWriter, r *http.Request) {
		f.contexts++
		writeJSON(w, http.StatusOK, map[string]any{"id": "ctx-" + strconv.Itoa(f.contexts)})
	}))
	mux.HandleFunc("POST /api/1.2/contexts/destroy", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": decode(r)["contextId"]})
	}))
	mux.HandleFunc("POST /api/1.2/commands/execute", authed(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.commands = append(f.commands, body)
		writeJSON(w, http.StatusOK, map[string]any{"id": "cmd-" + strconv.Itoa(len(f.commands))})
	}))
	mux.HandleFunc("GET /api/1.2/commands/status", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      r.URL.Query().Get("commandId"),
			"status":  "Finished",
			"results": map[string]any{"resultType": "text", "data": "context " + r.URL.Query().Get("contextId")},
		})
	}))
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeWorkspace, *report.Run) {
	t.Helper()
	fake := newFakeWorkspace()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	run := report.NewRun(t.Name())
	return New(srv.URL, "dapi-token", WithRecorder(run)), fake, run
}

func TestNew_BaseURL(t *testing.T) {
	c := New("https://adb-1.azuredatabricks.net/api/2.0/", "tok")
	assert.Equal(t, "https://adb-1.azuredatabricks.net/api/2.0", c.BaseURL())
}

func TestDBFS(t *testing.T) {
	ctx := context.Background()
	c, fake, run := newTestClient(t)

	local := filepath.Join(t.TempDir(), "student.csv")
	require.NoError(t, os.WriteFile(local, []byte("id\n7\n"), 0o644))

	target, err := c.UploadFilesInDBFS(ctx, local, "/FileStore/data/", false)
	require.NoError(t, err)
	assert.Equal(t, "/FileStore/data/student.csv", target)
	assert.Equal(t, []byte("id\n7\n"), fake.files[target])

	files, err := c.ListDBFSFiles(ctx, "/FileStore/data")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	data, err := c.ReadDBFSFile(ctx, "/FileStore/data/a.csv", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,ada\n", string(data))

	data, err = c.ReadDBFSFile(ctx, "/FileStore/data/a.csv", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "name", string(data))

	require.NoError(t, c.DeleteDBFSPath(ctx, target, false))
	assert.NotContains(t, fake.files, target)
	assert.True(t, run.Passed())
}

func TestUploadFilesInDBFS_Rejected(t *testing.T) {
	c, _, run := newTestClient(t)
	local := filepath.Join(t.TempDir(), "a.csv")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	_, err := c.UploadFilesInDBFS(context.Background(), local, "/FileStore/data", false)
	require.Error(t, err)
	assert.False(t, run.Passed())

	_, err = c.UploadFilesInDBFS(context.Background(), "", "/FileStore/data", true)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNotebooks(t *testing.T) {
	ctx := context.Background()
	c, fake, _ := newTestClient(t)

	src := filepath.Join(t.TempDir(), "etl.py")
	require.NoError(t, os.WriteFile(src, []byte("print('hi')"), 0o644))

	ok, err := c.CheckNotebook(ctx, "/Users/qa/etl")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.CreateNotebook(ctx, src, "/Users/qa/etl", ""))
	assert.Equal(t, "PYTHON:print('hi')", fake.notebooks["/Users/qa/etl"])

	ok, err = c.CheckNotebook(ctx, "/Users/qa/etl")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.DeleteNotebook(ctx, "/Users/qa/etl", false))
	assert.Empty(t, fake.notebooks)
}

func TestClusters(t *testing.T) {
	ctx := context.Background()
	c, fake, _ := newTestClient(t)

	id, err := c.GetClusterID(ctx, "etl cluster")
	require.NoError(t, err)
	assert.Equal(t, "0107-192239-lobed1", id)

	_, err = c.GetClusterID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	cl, err := c.GetCluster(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", cl.State)
	assert.Equal(t, 2, cl.NumWorkers)

	require.NoError(t, c.StartCluster(ctx, id))
	require.NoError(t, c.RestartCluster(ctx, id))
	require.NoError(t, c.StopCluster(ctx, id))
	require.NoError(t, c.DeleteCluster(ctx, id))
	assert.Equal(t, []string{"start:" + id, "restart:" + id, "delete:" + id, "permanent-delete:" + id}, fake.clusterCall)

	created, err := c.CreateCluster(ctx, map[string]any{"cluster_name": "tmp", "num_workers": 1})
	require.NoError(t, err)
	assert.Equal(t, "new-cluster", created)

	assert.ErrorIs(t, c.StartCluster(ctx, ""), ErrInvalidArgument)
}

func TestJobs(t *testing.T) {
	ctx := context.Background()
	c, fake, _ := newTestClient(t)

	id, err := c.GetJobID(ctx, "nightly load")
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)

	job, err := c.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Nightly Load", job.Name())

	runID, err := c.RunJobAndGetRunID(ctx, id, map[string]string{"env": "qa"})
	require.NoError(t, err)
	assert.Equal(t, int64(501), runID)
	assert.Equal(t, map[string]any{"env": "qa"}, fake.lastRunNow["notebook_params"])

	runs, err := c.ListJobRuns(ctx, id, nil)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	created, err := c.CreateJob(ctx, map[string]any{"name": "tmp"})
	require.NoError(t, err)
	assert.Equal(t, int64(99), created)
	require.NoError(t, c.DeleteJob(ctx, created))

	assert.ErrorIs(t, c.DeleteJob(ctx, 0), ErrInvalidArgument)
}

func TestCheckJobStatusAndWait(t *testing.T) {
	running := RunState{LifeCycleState: "RUNNING"}
	tests := []struct {
		name    string
		states  []RunState
		wantErr error
		polls   int
	}{
		{
			name:   "success",
			states: []RunState{running, {LifeCycleState: LifeCycleTerminated, ResultState: ResultSuccess}},
			polls:  2,
		},
		{
			name:    "failed",
			states:  []RunState{{LifeCycleState: LifeCycleInternalError, ResultState: ResultFailed, StateMessage: "boom"}},
			wantErr: ErrJobFailed,
			polls:   1,
		},
		{
			name:    "still running",
			states:  []RunState{running},
			wantErr: wait.ErrTimeout,
			polls:   3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake, run := newTestClient(t)
			fake.runStates = tt.states

			err := c.CheckJobStatusAndWait(context.Background(), 501, 3, time.Millisecond)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, run.Passed())
			} else {
				require.NoError(t, err)
				assert.True(t, run.Passed())
			}
			assert.Equal(t, tt.polls, fake.polls)
		})
	}
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	c, fake, _ := newTestClient(t)

	_, err := c.CommandStatus(ctx, "cl-1", "cmd-1")
	assert.ErrorIs(t, err, ErrNoContext)

	cmdID, err := c.ExecuteCommand(ctx, LangPython, "cl-1", "dbutils.fs.ls('/')")
	require.NoError(t, err)
	assert.Equal(t, "cmd-1", cmdID)
	assert.Equal(t, "ctx-1", c.ContextID())

	_, err = c.ExecuteCommand(ctx, LangPython, "cl-1", "1+1")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.contexts, "the context is reused")
	assert.Equal(t, "ctx-1", fake.commands[1]["contextId"])

	st, err := c.CommandStatus(ctx, "cl-1", cmdID)
	require.NoError(t, err)
	assert.Equal(t, "Finished", st.Status)
	data, err := st.Data()
	require.NoError(t, err)
	assert.Equal(t, "context ctx-1", data)

	require.NoError(t, c.DestroyContext(ctx, "cl-1"))
	assert.Empty(t, c.ContextID())
	assert.ErrorIs(t, c.DestroyContext(ctx, "cl-1"), ErrNoContext)
}

func TestCommandStatus_Error(t *testing.T) {
	st := &CommandStatus{ID: "cmd-1", Results: map[string]any{"resultType": "error", "cause": "NameError"}}
	_, err := st.Data()
	assert.ErrorContains(t, err, "NameError")
}

func TestTokens(t *testing.T) {
	ctx := context.Background()
	c, fake, _ := newTestClient(t)

	tok, err := c.CreateAccessToken(ctx, "qa@example.com", "secret", 7200, "automation")
	require.NoError(t, err)
	assert.Equal(t, "dapi-new", tok.Value)
	assert.Equal(t, "automation", tok.Info.Comment)
	assert.Equal(t, "qa@example.com", fake.basicUser)

	tokens, err := c.GetTokenList(ctx)
	require.NoError(t, err)
	assert.Len(t, tokens, 2)

	require.NoError(t, c.DeleteAccessToken(ctx, "tok-1"))
	assert.ErrorIs(t, c.DeleteAccessToken(ctx, ""), ErrInvalidArgument)
}

func TestUnauthorized(t *testing.T) {
	fake := newFakeWorkspace()
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	run := report.NewRun(t.Name())
	c := New(srv.URL, "wrong", WithRecorder(run))
	_, err := c.ListClusters(context.Background())
	require.Error(t, err)
	assert.Equal(t, report.StatusError, run.Steps()[0].Status)
}

func TestExecuteHiveQuery(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	opened := 0
	c := New("https://adb-1.azuredatabricks.net", "dapi-token")
	c.sqlOpener = func(ctx context.Context, httpPath string) (*database.Conn, error) {
		opened++
		assert.Equal(t, ClusterHTTPPath("7372722", "0107-192239-lobed1"), httpPath)
		return database.NewConn(database.Databricks, "default", sqlx.NewDb(db, "sqlmock")), nil
	}

	mock.ExpectQuery("SELECT id, name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "ada").AddRow(int64(2), "grace"))
	mock.ExpectQuery("SELECT count(*) FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"count(1)"}).AddRow(int64(2)))

	path := ClusterHTTPPath("7372722", "0107-192239-lobed1")
	rows, err := c.ExecuteHiveQuery(context.Background(), path, "SELECT id, name FROM users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, rows.Headers())
	assert.Equal(t, 2, rows.RowCount())

	_, err = c.ExecuteHiveQuery(context.Background(), path, "SELECT count(*) FROM users")
	require.NoError(t, err)
	assert.Equal(t, 1, opened, "connection is cached per http path")

	_, err = c.ExecuteHiveQuery(context.Background(), path, "DROP TABLE users")
	assert.ErrorIs(t, err, database.ErrInvalidArgument)

	mock.ExpectClose()
	require.NoError(t, c.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteHiveQuery_BadWorkspaceURL(t *testing.T) {
	c := New("not a url", "tok")
	_, err := c.ExecuteHiveQuery(context.Background(), WarehouseHTTPPath("abc"), "SELECT 1")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
