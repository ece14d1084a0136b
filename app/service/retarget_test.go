package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"rigforge/app/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordProgress() (ProgressFunc, func() []int) {
	var (
		mu   sync.Mutex
		seen []int
	)
	report := func(p int) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p)
		return nil
	}
	return report, func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), seen...)
	}
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestBundleRetargeterPlaceholderAssets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	report, seen := recordProgress()

	in := RetargetInput{JobID: "job-1", CharacterName: "Kaya", AnimationName: "Idle", ExportFormat: "fbx"}
	key, err := NewBundleRetargeter(env.files, 0).Retarget(ctx, in, report)
	require.NoError(t, err)
	assert.Equal(t, ResultKey("job-1", "zip"), key)
	assert.Equal(t, []int{25, 45, 70, 90}, seen())

	data, err := storage.ReadAll(ctx, env.files, key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"manifest.json", "thumbnail.png"}, zipNames(t, data))
}

func TestBundleRetargeterMissingAnimation(t *testing.T) {
	env := newTestEnv(t)
	env.putFile(t, "characters/kaya.fbx", "mesh")
	report, seen := recordProgress()

	in := RetargetInput{JobID: "job-2", CharacterFile: "characters/kaya.fbx", AnimationFile: "animations/gone.fbx"}
	_, err := NewBundleRetargeter(env.files, 0).Retarget(context.Background(), in, report)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load animation clip")
	assert.Equal(t, []int{25}, seen())
}

func TestBundleRetargeterStopsWhenReportFails(t *testing.T) {
	env := newTestEnv(t)
	stop := errCancelledByUser
	calls := 0
	report := func(int) error {
		calls++
		return stop
	}

	_, err := NewBundleRetargeter(env.files, 0).Retarget(context.Background(), RetargetInput{JobID: "job-3"}, report)
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	_, err = storage.ReadAll(context.Background(), env.files, ResultKey("job-3", "zip"))
	assert.Error(t, err, "no result is written after an aborted run")
}

func TestBundleRetargeterRespectsContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, _ := recordProgress()
	_, err := NewBundleRetargeter(env.files, time.Second).Retarget(ctx, RetargetInput{JobID: "job-4"}, report)
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeRenderer 模拟外部渲染服务：每次轮询推进一个阶段
type fakeRenderer struct {
	mu       sync.Mutex
	polls    int
	stages   []remoteTaskResponse
	received RetargetInput
}

func (f *fakeRenderer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/retarget":
		if err := json.NewDecoder(r.Body).Decode(&f.received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(remoteSubmitResponse{TaskID: "t-1"})
	case r.Method == http.MethodGet && r.URL.Path == "/v1/retarget/t-1":
		stage := f.stages[min(f.polls, len(f.stages)-1)]
		f.polls++
		_ = json.NewEncoder(w).Encode(stage)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestRemoteRetargeterCompletes(t *testing.T) {
	env := newTestEnv(t)
	renderer := &fakeRenderer{stages: []remoteTaskResponse{
		{Status: "queued"},
		{Status: "running", Progress: 50},
		{Status: "running", Progress: 40},
		{Status: "done", Progress: 100, Format: "glb", Artifact: []byte("glTF")},
	}}
	srv := httptest.NewServer(renderer)
	defer srv.Close()

	r := NewRemoteRetargeter(srv.URL, 5*time.Second, env.files, 5*time.Millisecond)
	defer r.Close()

	report, seen := recordProgress()
	in := RetargetInput{JobID: "job-r", CharacterFile: "characters/kaya.fbx", ExportFormat: "fbx"}
	key, err := r.Retarget(context.Background(), in, report)
	require.NoError(t, err)
	assert.Equal(t, ResultKey("job-r", "glb"), key)
	assert.Equal(t, []int{50, 90}, seen())
	assert.Equal(t, "characters/kaya.fbx", renderer.received.CharacterFile)

	data, err := storage.ReadAll(context.Background(), env.files, key)
	require.NoError(t, err)
	assert.Equal(t, "glTF", string(data))
}

func TestRemoteRetargeterReportsFailure(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(&fakeRenderer{stages: []remoteTaskResponse{
		{Status: "failed", Error: "skeleton mismatch"},
	}})
	defer srv.Close()

	r := NewRemoteRetargeter(srv.URL, 5*time.Second, env.files, 5*time.Millisecond)
	defer r.Close()

	report, _ := recordProgress()
	_, err := r.Retarget(context.Background(), RetargetInput{JobID: "job-f"}, report)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skeleton mismatch")
}

func TestRemoteRetargeterRejected(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRemoteRetargeter(srv.URL, 5*time.Second, env.files, 5*time.Millisecond)
	defer r.Close()

	report, _ := recordProgress()
	_, err := r.Retarget(context.Background(), RetargetInput{JobID: "job-x"}, report)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renderer rejected job")
}

func TestScaleRemoteProgress(t *testing.T) {
	assert.Equal(t, 0, scaleRemoteProgress(-5))
	assert.Equal(t, 0, scaleRemoteProgress(0))
	assert.Equal(t, 50, scaleRemoteProgress(50))
	assert.Equal(t, 90, scaleRemoteProgress(100))
	assert.Equal(t, 90, scaleRemoteProgress(250))
}

func TestResultKeyStaysInsideJobDirectory(t *testing.T) {
	assert.Equal(t, "processed/job-a/character_animated_job-a.glb", ResultKey("job-a", "GLB"))
	for _, ext := range []string{"", "x/../../../processed/job-b/character_animated_job-b.zip", `zip"`, "zip/..", "averyverylongext"} {
		assert.Equal(t, "processed/job-a/character_animated_job-a.fbx", ResultKey("job-a", ext), ext)
	}
}

func TestRemoteRetargeterIgnoresUnsafeFormats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 另一个任务已有的结果
	victim := ResultKey("job-b", "zip")
	env.putFile(t, victim, "original")

	cases := []struct {
		name      string
		renderer  string
		requested string
		want      string
	}{
		{"caller format escapes job directory", "", "x/../../../processed/job-b/character_animated_job-b.zip", ResultKey("job-a", "fbx")},
		{"renderer format escapes job directory", "../../job-b/character_animated_job-b.zip", "glb", ResultKey("job-a", "glb")},
		{"renderer format is uppercased", "USDZ", "fbx", ResultKey("job-a", "usdz")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(&fakeRenderer{stages: []remoteTaskResponse{
				{Status: "done", Progress: 100, Format: tc.renderer, Artifact: []byte("artifact")},
			}})
			defer srv.Close()
			r := NewRemoteRetargeter(srv.URL, 5*time.Second, env.files, 5*time.Millisecond)
			defer r.Close()

			report, _ := recordProgress()
			key, err := r.Retarget(ctx, RetargetInput{JobID: "job-a", ExportFormat: tc.requested}, report)
			require.NoError(t, err)
			assert.Equal(t, tc.want, key)

			data, err := storage.ReadAll(ctx, env.files, victim)
			require.NoError(t, err)
			assert.Equal(t, "original", string(data))
		})
	}
}
