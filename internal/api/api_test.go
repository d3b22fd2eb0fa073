package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	backend "medtext-backend/internal/api"
	"medtext-backend/internal/config"
	"medtext-backend/internal/database"
	"medtext-backend/internal/inference"
	"medtext-backend/internal/messaging"
	"medtext-backend/pkg/api"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

type staticModel struct {
	label string
	score float64
}

func (m *staticModel) Predict(ctx context.Context, text string) (inference.Prediction, error) {
	return inference.Prediction{Label: m.label, Score: m.score}, nil
}

func (m *staticModel) Release() {}

func createService(t *testing.T, db *gorm.DB) (*chi.Mux, *messaging.InMemoryQueue) {
	t.Helper()

	adapter, err := inference.NewAdapter(map[string]inference.Model{
		"phenotype": &staticModel{label: "POSITIVE", score: 0.9},
	}, time.Minute)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Models = map[string]inference.ModelSpec{
		"phenotype": {Type: inference.OnnxClassifier, ModelPath: "/models/phenotype"},
	}
	cfg.NoteFilter.Status = config.StatusExcluded

	queue := messaging.NewInMemoryQueue()
	service := backend.NewBackendService(db, queue, cfg, adapter)
	router := chi.NewRouter()
	service.AddRoutes(router)
	return router, queue
}

func postJSON(t *testing.T, router *chi.Mux, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateBatch(t *testing.T) {
	db := createDB(t)
	router, queue := createService(t, db)

	payload := api.CreateBatchRequest{
		Name:       "nightly-run",
		SourceType: "inline",
		Patients: []api.Patient{
			{PatientId: "P1", Notes: []api.Note{
				{NoteId: "N1", Text: "HISTORY: Cough for weeks."},
				{NoteId: "N2", Text: "PLAN: Chest x-ray ordered."},
			}},
			{PatientId: "P2", Notes: []api.Note{
				{NoteId: "N1", Text: "Routine followup."},
			}},
		},
	}

	rec := postJSON(t, router, "/batches", payload)
	assert.Equal(t, http.StatusOK, rec.Code, "received response: "+rec.Body.String())

	var response api.CreateBatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.NotEqual(t, uuid.Nil, response.BatchId)

	var batch database.Batch
	require.NoError(t, db.First(&batch, "id = ?", response.BatchId).Error)
	assert.Equal(t, "nightly-run", batch.Name)
	assert.Equal(t, database.JobQueued, batch.Status)
	assert.Equal(t, "inline", batch.SourceType)

	select {
	case task := <-queue.Tasks():
		var taskPayload messaging.BatchTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &taskPayload))
		assert.Equal(t, response.BatchId, taskPayload.BatchId)
	default:
		t.Fatal("no batch task was published")
	}
}

func TestCreateBatchValidation(t *testing.T) {
	db := createDB(t)
	router, _ := createService(t, db)

	tests := []struct {
		name    string
		payload api.CreateBatchRequest
		code    int
	}{
		{
			name:    "bad name",
			payload: api.CreateBatchRequest{Name: "no spaces allowed", SourceType: "inline"},
			code:    http.StatusBadRequest,
		},
		{
			name:    "unknown source type",
			payload: api.CreateBatchRequest{Name: "run", SourceType: "ftp"},
			code:    http.StatusUnprocessableEntity,
		},
		{
			name:    "inline without notes",
			payload: api.CreateBatchRequest{Name: "run", SourceType: "inline"},
			code:    http.StatusUnprocessableEntity,
		},
		{
			name: "duplicate correlation key",
			payload: api.CreateBatchRequest{Name: "run", SourceType: "inline", Patients: []api.Patient{
				{PatientId: "P1", Notes: []api.Note{{NoteId: "N1", Text: "a"}, {NoteId: "N1", Text: "b"}}},
			}},
			code: http.StatusUnprocessableEntity,
		},
		{
			name:    "local without dir",
			payload: api.CreateBatchRequest{Name: "run", SourceType: "local"},
			code:    http.StatusUnprocessableEntity,
		},
		{
			name: "override cannot enable excluded stage",
			payload: api.CreateBatchRequest{Name: "run", SourceType: "local", Dir: "/notes",
				Override: json.RawMessage(`{"note_filter": {"status": "enabled", "words": ["PE"]}}`)},
			code: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, router, "/batches", tt.payload)
			assert.Equal(t, tt.code, rec.Code, "received response: "+rec.Body.String())
		})
	}
}

func TestListAndGetBatches(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	db := createDB(t,
		&database.Batch{Id: id1, Name: "first", Status: database.JobCompleted, CreationTime: time.Now().Add(-time.Hour), SourceType: "inline"},
		&database.Batch{Id: id2, Name: "second", Status: database.JobRunning, CreationTime: time.Now(), SourceType: "local"},
	)
	router, _ := createService(t, db)

	req := httptest.NewRequest(http.MethodGet, "/batches", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var batches []api.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batches))
	require.Len(t, batches, 2)
	assert.Equal(t, "second", batches[0].Name)
	assert.Equal(t, "first", batches[1].Name)

	req = httptest.NewRequest(http.MethodGet, "/batches/"+id1.String(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var batch api.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, id1, batch.Id)
	assert.Equal(t, database.JobCompleted, batch.Status)

	req = httptest.NewRequest(http.MethodGet, "/batches/"+uuid.NewString(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBatchOutcomes(t *testing.T) {
	batchId := uuid.New()
	db := createDB(t,
		&database.Batch{Id: batchId, Name: "run", Status: database.JobCompleted, CreationTime: time.Now(), SourceType: "inline"},
		&database.NoteOutcome{
			BatchId: batchId, PatientId: "P1", NoteId: "N1", Status: database.OutcomeCompleted,
			Preprocessed: "HISTORY: Cough for weeks.",
			Predictions:  []byte(`{"phenotype": {"label": "POSITIVE", "score": 0.91}}`),
			Flags:        []byte(`["joined"]`),
		},
		&database.NoteOutcome{
			BatchId: batchId, PatientId: "P1", NoteId: "N2", Status: database.OutcomeFailed,
			FailedStage: "ml_inference", ErrorKind: "inference", ErrorMessage: "model overload",
		},
		&database.NoteOutcome{
			BatchId: batchId, PatientId: "P2", NoteId: "N1", Status: database.OutcomeCompleted,
			Predictions: []byte(`{"phenotype": {"label": "NEGATIVE", "score": 0.2}}`),
		},
	)
	router, _ := createService(t, db)

	t.Run("All", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/batches/%s/outcomes", batchId), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var outcomes []api.NoteOutcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcomes))
		require.Len(t, outcomes, 3)
		assert.Equal(t, "POSITIVE", outcomes[0].Predictions["phenotype"].Label)
		assert.Equal(t, []string{"joined"}, outcomes[0].Flags)
	})

	t.Run("FilterByStatus", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/batches/%s/outcomes?status=FAILED", batchId), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var outcomes []api.NoteOutcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcomes))
		require.Len(t, outcomes, 1)
		assert.Equal(t, "N2", outcomes[0].NoteId)
		assert.Equal(t, "model overload", outcomes[0].ErrorMessage)
	})

	t.Run("Paged", func(t *testing.T) {
		var outcomes []api.NoteOutcome
		for {
			url := fmt.Sprintf("/batches/%s/outcomes?limit=2&offset=%d", batchId, len(outcomes))
			req := httptest.NewRequest(http.MethodGet, url, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			var page []api.NoteOutcome
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
			assert.GreaterOrEqual(t, 2, len(page))
			outcomes = append(outcomes, page...)

			if len(page) == 0 {
				break
			}
		}
		assert.Len(t, outcomes, 3)
	})
}

func TestGetBatchGroups(t *testing.T) {
	batchId, group1, group2 := uuid.New(), uuid.New(), uuid.New()
	db := createDB(t,
		&database.Batch{Id: batchId, Name: "run", Status: database.JobCompleted, CreationTime: time.Now(), SourceType: "inline"},
		&database.Group{Id: group1, BatchId: batchId, Name: "positives", Query: `phenotype = "POSITIVE"`},
		&database.Group{Id: group2, BatchId: batchId, Name: "confident", Query: `SCORE phenotype > 0.8`},
		&database.GroupMember{GroupId: group1, PatientId: "P1", NoteId: "N1"},
		&database.GroupMember{GroupId: group1, PatientId: "P2", NoteId: "N1"},
	)
	router, _ := createService(t, db)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/batches/%s/groups", batchId), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var batchGroups []api.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batchGroups))
	assert.Len(t, batchGroups, 2)

	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/batches/%s/groups/%s", batchId, group1), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var group api.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &group))
	assert.Equal(t, "positives", group.Name)
	assert.ElementsMatch(t, []api.NoteRef{
		{PatientId: "P1", NoteId: "N1"},
		{PatientId: "P2", NoteId: "N1"},
	}, group.Members)
}

func TestProcessText(t *testing.T) {
	db := createDB(t)
	router, _ := createService(t, db)

	rec := postJSON(t, router, "/process/text", api.ProcessTextRequest{
		Text: "HISTORY: Patient is recovering well.",
	})
	assert.Equal(t, http.StatusOK, rec.Code, "received response: "+rec.Body.String())

	var response api.ProcessTextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "POSITIVE", response.Predictions["phenotype"].Label)
	assert.NotEmpty(t, response.Preprocessed)

	rec = postJSON(t, router, "/process/text", api.ProcessTextRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
