package publish_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pixiset/internal/logging"
	"pixiset/internal/models"
	"pixiset/internal/publish"
	"pixiset/internal/storage/memstore"
	"pixiset/internal/testsupport"
)

func newMachine(t *testing.T, opts publish.Options) (*publish.Machine, *testsupport.Builder) {
	t.Helper()
	cache, _ := testsupport.NewCache(t, time.Minute)
	builder := &testsupport.Builder{}
	m := publish.New(memstore.New(), cache, builder, logging.Discard(), opts)
	return m, builder
}

func draftSettings(name string) models.SiteSettings {
	return models.SiteSettings{
		Name:         name,
		Slug:         "studio",
		PrimaryColor: "#112233",
		FontFamily:   "Inter",
		Layout:       "grid",
	}
}

func TestCreateStartsInDraft(t *testing.T) {
	m, _ := newMachine(t, publish.Options{})

	w, err := m.Create(context.Background(), draftSettings("Studio"))
	require.NoError(t, err)
	require.Equal(t, models.PublishDraft, w.PublishState)
	require.Nil(t, w.LiveSettings)
	require.Nil(t, w.PublishedAt)
}

func TestRequestPublishHandsOffDraftSnapshot(t *testing.T) {
	m, builder := newMachine(t, publish.Options{})
	ctx := context.Background()

	w, err := m.Create(ctx, draftSettings("Studio"))
	require.NoError(t, err)

	w, err = m.RequestPublish(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, models.PublishPublishing, w.PublishState)
	require.Equal(t, "queued", w.BuildStatus)

	reqs := builder.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, w.ID, reqs[0].WebsiteID)
	require.Equal(t, "Studio", reqs[0].Snapshot.Name)
}

func TestConcurrentPublishAcceptsExactlyOne(t *testing.T) {
	m, builder := newMachine(t, publish.Options{})
	ctx := context.Background()

	w, err := m.Create(ctx, draftSettings("Studio"))
	require.NoError(t, err)

	const requests = 8
	errs := make([]error, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.RequestPublish(ctx, w.ID)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		require.ErrorIs(t, err, models.ErrAlreadyPublishing)
	}
	require.Equal(t, 1, accepted)
	require.Len(t, builder.Requests(), 1)
}

func TestSuccessPublishesTheSnapshotNotTheLaterDraft(t *testing.T) {
	m, builder := newMachine(t, publish.Options{})
	ctx := context.Background()

	w, err := m.Create(ctx, draftSettings("Before"))
	require.NoError(t, err)
	_, err = m.RequestPublish(ctx, w.ID)
	require.NoError(t, err)

	// Edits landing while a build runs must not leak into the live site.
	_, err = m.EditDraft(ctx, w.ID, draftSettings("After"))
	require.NoError(t, err)

	jobID := builder.Requests()[0].JobID
	require.NoError(t, m.HandleBuildResult(ctx, jobID, true, ""))

	got, err := m.GetWebsite(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, models.PublishLive, got.PublishState)
	require.NotNil(t, got.LiveSettings)
	require.Equal(t, "Before", got.LiveSettings.Name)
	require.Equal(t, "After", got.DraftSettings.Name)
	require.NotNil(t, got.PublishedAt)
	require.Equal(t, "https://studio.pixiset.app", got.PublishedURL())
}

func TestFailureLandsInFailedAndRetryIsAllowed(t *testing.T) {
	m, builder := newMachine(t, publish.Options{})
	ctx := context.Background()

	w, err := m.Create(ctx, draftSettings("Studio"))
	require.NoError(t, err)
	_, err = m.RequestPublish(ctx, w.ID)
	require.NoError(t, err)

	jobID := builder.Requests()[0].JobID
	require.NoError(t, m.HandleBuildResult(ctx, jobID, false, "asset bundling failed"))

	got, err := m.GetWebsite(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, models.PublishFailed, got.PublishState)
	require.Equal(t, "asset bundling failed", got.BuildStatus)
	require.Nil(t, got.LiveSettings)

	_, err = m.RequestPublish(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, builder.Requests(), 2)
}

func TestRepublishFromLive(t *testing.T) {
	m, builder := newMachine(t, publish.Options{})
	ctx := context.Background()

	w, err := m.Create(ctx, draftSettings("v1"))
	require.NoError(t, err)
	_, err = m.RequestPublish(ctx, w.ID)
	require.NoError(t, err)
	require.NoError(t, m.HandleBuildResult(ctx, builder.Requests()[0].JobID, true, ""))

	_, err = m.EditDraft(ctx, w.ID, draftSettings("v2"))
	require.NoError(t, err)
	_, err = m.RequestPublish(ctx, w.ID)
	require.NoError(t, err)
	require.NoError(t, m.HandleBuildResult(ctx, builder.Requests()[1].JobID, true, ""))

	got, err := m.GetWebsite(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, models.PublishLive, got.PublishState)
	require.Equal(t, "v2", got.LiveSettings.Name)
}

func TestStaleBuildResultIsDropped(t *testing.T) {
	m, builder := newMachine(t, publish.Options{})
	ctx := context.Background()

	w, err := m.Create(ctx, draftSettings("Studio"))
	require.NoError(t, err)
	_, err = m.RequestPublish(ctx, w.ID)
	require.NoError(t, err)

	jobID := builder.Requests()[0].JobID
	require.NoError(t, m.HandleBuildResult(ctx, jobID, true, ""))

	// Duplicate delivery of the same result changes nothing.
	require.NoError(t, m.HandleBuildResult(ctx, jobID, false, "late duplicate"))
	got, err := m.GetWebsite(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, models.PublishLive, got.PublishState)

	// A result for a job nothing is waiting on is dropped too.
	require.NoError(t, m.HandleBuildResult(ctx, "job-never-issued", true, ""))
}

func TestBuildTimeoutFailsThePublish(t *testing.T) {
	m, builder := newMachine(t, publish.Options{BuildTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	w, err := m.Create(ctx, draftSettings("Studio"))
	require.NoError(t, err)
	_, err = m.RequestPublish(ctx, w.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, gerr := m.GetWebsite(ctx, w.ID)
		return gerr == nil && got.PublishState == models.PublishFailed
	}, 5*time.Second, 5*time.Millisecond)

	got, err := m.GetWebsite(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, "build timed out", got.BuildStatus)

	// The real result arriving after the watchdog fired is stale.
	require.NoError(t, m.HandleBuildResult(ctx, builder.Requests()[0].JobID, true, ""))
	got, err = m.GetWebsite(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, models.PublishFailed, got.PublishState)
}

func TestBuilderErrorLeavesStateUntouched(t *testing.T) {
	m, builder := newMachine(t, publish.Options{})
	ctx := context.Background()

	w, err := m.Create(ctx, draftSettings("Studio"))
	require.NoError(t, err)

	builder.NextErr = errors.New("broker unavailable")
	_, err = m.RequestPublish(ctx, w.ID)
	require.Error(t, err)

	got, err := m.GetWebsite(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, models.PublishDraft, got.PublishState)

	_, err = m.RequestPublish(ctx, w.ID)
	require.NoError(t, err)
}

func TestStatusPollSurvivesCacheEviction(t *testing.T) {
	cache, mr := testsupport.NewCache(t, time.Minute)
	builder := &testsupport.Builder{}
	m := publish.New(memstore.New(), cache, builder, logging.Discard(), publish.Options{})
	ctx := context.Background()

	w, err := m.Create(ctx, draftSettings("Studio"))
	require.NoError(t, err)
	_, err = m.RequestPublish(ctx, w.ID)
	require.NoError(t, err)

	mr.FlushAll()

	snap, err := m.GetWebsiteStatus(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, string(models.PublishPublishing), snap.PublishState)
	require.Equal(t, "queued", snap.BuildStatus)
}
