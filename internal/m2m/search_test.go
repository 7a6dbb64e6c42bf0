package m2m

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchScenesPaginatesUntilExhausted(t *testing.T) {
	all := []SceneResult{
		{EntityID: "LC08001"}, {EntityID: "LC08002"}, {EntityID: "LC08003"},
		{EntityID: "LC08004"}, {EntityID: "LC08005"},
	}

	var mu sync.Mutex
	var startingNumbers []int
	mux := http.NewServeMux()
	mux.HandleFunc("/login-token", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "key")
	})
	mux.HandleFunc("/scene-search", func(w http.ResponseWriter, r *http.Request) {
		var req sceneSearchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		startingNumbers = append(startingNumbers, req.StartingNumber)
		mu.Unlock()

		from := req.StartingNumber - 1
		to := from + req.MaxResults
		if to > len(all) {
			to = len(all)
		}
		writeEnvelope(w, sceneSearchResponse{
			Results:         all[from:to],
			RecordsReturned: to - from,
			TotalHits:       len(all),
			StartingNumber:  req.StartingNumber,
		})
	})

	c := testClient(t, mux)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	results, err := c.SearchScenes(ctx, SearchParams{
		Dataset:       "landsat_ot_c2_l2",
		StartDate:     "2024-01-01",
		EndDate:       "2024-03-31",
		MaxCloudCover: 30,
	})
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, "LC08005", results[4].EntityID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 3, 5}, startingNumbers, "page size 2 walks records 1, 3, 5")
}

func TestSearchScenesRetriesFailedPageWithoutRefetchingEarlierPages(t *testing.T) {
	all := []SceneResult{
		{EntityID: "LC08001"}, {EntityID: "LC08002"}, {EntityID: "LC08003"},
	}

	var mu sync.Mutex
	callsByStart := map[int]int{}
	mux := http.NewServeMux()
	mux.HandleFunc("/login-token", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "key")
	})
	mux.HandleFunc("/scene-search", func(w http.ResponseWriter, r *http.Request) {
		var req sceneSearchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		callsByStart[req.StartingNumber]++
		n := callsByStart[req.StartingNumber]
		mu.Unlock()

		// second page fails once before succeeding
		if req.StartingNumber == 3 && n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		from := req.StartingNumber - 1
		to := from + req.MaxResults
		if to > len(all) {
			to = len(all)
		}
		writeEnvelope(w, sceneSearchResponse{
			Results:         all[from:to],
			RecordsReturned: to - from,
			TotalHits:       len(all),
			StartingNumber:  req.StartingNumber,
		})
	})

	c := testClient(t, mux)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	results, err := c.SearchScenes(ctx, SearchParams{Dataset: "landsat_ot_c2_l2", StartDate: "2024-01-01", EndDate: "2024-01-31"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, callsByStart[1], "first page fetched exactly once")
	assert.Equal(t, 2, callsByStart[3], "failed page retried in place")
}

func TestRetrieveDownloadsPollsUntilAllReady(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/login-token", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "key")
	})
	mux.HandleFunc("/download-retrieve", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()

		available := []PreparedDownload{{DownloadID: 1, EntityID: "B1", URL: "https://files/b1.tif"}}
		if n >= 3 {
			available = append(available, PreparedDownload{DownloadID: 2, EntityID: "B2", URL: "https://files/b2.tif"})
		}
		writeEnvelope(w, downloadRetrieveResponse{Available: available})
	})

	c := testClient(t, mux)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	downloads, err := c.RetrieveDownloads(ctx, "run-label", 2)
	require.NoError(t, err)
	assert.Len(t, downloads, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, polls, 3)
}

func TestRetrieveDownloadsTimesOutWithPartialResults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login-token", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "key")
	})
	mux.HandleFunc("/download-retrieve", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, downloadRetrieveResponse{
			Available: []PreparedDownload{{DownloadID: 1, EntityID: "B1", URL: "https://files/b1.tif"}},
			QueueSize: 1,
		})
	})

	c := testClient(t, mux)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	downloads, err := c.RetrieveDownloads(ctx, "run-label", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPackagePreparationTimeout)
	assert.Len(t, downloads, 1, "ready URLs are returned alongside the timeout")
}

func TestSelectBandProducts(t *testing.T) {
	options := []DownloadOption{
		{
			ID:       "bundle-1",
			EntityID: "LC08001",
			SecondaryDownloads: []DownloadOption{
				{ID: "p-b3", EntityID: "F1", DisplayID: "LC08_L2SP_005052_20240115_02_T1_SR_B3.TIF", FileSize: 100},
				{ID: "p-b30", EntityID: "F2", DisplayID: "LC08_L2SP_005052_20240115_02_T1_SR_B30.TIF"},
				{ID: "p-b6", EntityID: "F3", DisplayID: "LC08_L2SP_005052_20240115_02_T1_SR_B6.TIF", FileSize: 90},
				{ID: "p-mtl", EntityID: "F4", DisplayID: "LC08_L2SP_005052_20240115_02_T1_MTL.txt"},
			},
		},
		{
			ID:       "bundle-2",
			EntityID: "LC09005",
			SecondaryDownloads: []DownloadOption{
				{ID: "p-qa", EntityID: "F5", DisplayID: "LC09_L2SP_006051_20240116_02_T1_QA_PIXEL.TIF"},
			},
		},
		{ID: "bundle-3", EntityID: "LE07999"},
	}
	wanted := map[string][]string{
		"LC08001": {"SR_B3", "SR_B6", "MTL"},
		"LC09005": {"QA_PIXEL"},
	}

	refs, index := SelectBandProducts(options, wanted)
	require.Len(t, refs, 4)
	require.Len(t, index, 4)

	assert.Equal(t, "SR_B3", index["F1"].BandName)
	assert.Equal(t, "LC08001", index["F1"].SceneEntityID)
	assert.Equal(t, int64(100), index["F1"].FileSize)
	assert.Equal(t, "SR_B6", index["F3"].BandName)
	assert.Equal(t, "MTL", index["F4"].BandName)
	assert.Equal(t, "QA_PIXEL", index["F5"].BandName)

	_, falsePositive := index["F2"]
	assert.False(t, falsePositive, "SR_B30 must not match SR_B3")
}

func TestSelectBandProductsFallsBackToBundle(t *testing.T) {
	options := []DownloadOption{
		{
			ID:          "prod-meta",
			EntityID:    "LT05123",
			ProductName: "Landsat Collection 2 Level-2 Metadata",
			Available:   true,
		},
		{
			ID:          "prod-bundle",
			EntityID:    "LT05123",
			ProductName: "Landsat Collection 2 Level-2 Product Bundle",
			Available:   true,
			FileSize:    900,
		},
		{ID: "prod-stale", EntityID: "LT05124", Available: false},
	}
	wanted := map[string][]string{
		"LT05123": {"SR_B2", "SR_B5"},
		"LT05124": {"SR_B2"},
	}

	refs, index := SelectBandProducts(options, wanted)
	require.Len(t, refs, 1, "one bundle order for the scene with no band files")
	assert.Equal(t, "prod-bundle", refs[0].ProductID)

	p := index["LT05123"]
	assert.True(t, p.Bundle)
	assert.Empty(t, p.BandName)
	assert.Equal(t, int64(900), p.FileSize)

	_, unavailable := index["LT05124"]
	assert.False(t, unavailable, "scenes with no available product order nothing")
}
