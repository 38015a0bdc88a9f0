package subscription

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/tubeman/internal/crawler"
	"github.com/hitoshi/tubeman/internal/model"
)

// --- テスト用モック ---

// mockSubRepo はテスト用のSubscriptionRepositoryモック。
type mockSubRepo struct {
	subs             map[string]*model.Subscription
	commitBatchCalls int
	lastNewSubs      []*model.Subscription
	lastUnarchiveIDs []string
}

func newMockSubRepo() *mockSubRepo {
	return &mockSubRepo{subs: make(map[string]*model.Subscription)}
}

func (m *mockSubRepo) FindByID(_ context.Context, id string) (*model.Subscription, error) {
	return m.subs[id], nil
}

func (m *mockSubRepo) FindByChannelID(_ context.Context, channelID string) (*model.Subscription, error) {
	for _, sub := range m.subs {
		if sub.YoutubeChannelID == channelID {
			return sub, nil
		}
	}
	return nil, nil
}

func (m *mockSubRepo) FindByIdentity(_ context.Context, channelID, userName string) (*model.Subscription, error) {
	for _, sub := range m.subs {
		if channelID != "" && sub.YoutubeChannelID == channelID {
			return sub, nil
		}
		if userName != "" && sub.YoutubeUserName == userName {
			return sub, nil
		}
	}
	return nil, nil
}

func (m *mockSubRepo) List(_ context.Context, includeArchived bool) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	for _, sub := range m.subs {
		if !includeArchived && sub.IsArchived {
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (m *mockSubRepo) Create(_ context.Context, sub *model.Subscription) error {
	m.subs[sub.ID] = sub
	return nil
}

func (m *mockSubRepo) CommitBatch(_ context.Context, newSubs []*model.Subscription, unarchiveIDs []string) error {
	m.commitBatchCalls++
	m.lastNewSubs = newSubs
	m.lastUnarchiveIDs = unarchiveIDs
	for _, sub := range newSubs {
		m.subs[sub.ID] = sub
	}
	for _, id := range unarchiveIDs {
		if sub, ok := m.subs[id]; ok {
			sub.IsArchived = false
		}
	}
	return nil
}

func (m *mockSubRepo) Update(_ context.Context, sub *model.Subscription) error {
	m.subs[sub.ID] = sub
	return nil
}

func (m *mockSubRepo) Delete(_ context.Context, id string) error {
	delete(m.subs, id)
	return nil
}

// mockVideoRepo はテスト用のVideoRepositoryモック。
type mockVideoRepo struct {
	videos  map[string]*model.Video
	deleted []string
}

func newMockVideoRepo() *mockVideoRepo {
	return &mockVideoRepo{videos: make(map[string]*model.Video)}
}

func (m *mockVideoRepo) FindByID(_ context.Context, id string) (*model.Video, error) {
	return m.videos[id], nil
}
func (m *mockVideoRepo) FindByYoutubeID(_ context.Context, _ string) (*model.Video, error) {
	return nil, nil
}
func (m *mockVideoRepo) FindByURL(_ context.Context, _ string) (*model.Video, error) {
	return nil, nil
}
func (m *mockVideoRepo) ListAll(_ context.Context) ([]*model.Video, error) { return nil, nil }
func (m *mockVideoRepo) ListBySubscription(_ context.Context, subscriptionID string) ([]*model.Video, error) {
	var videos []*model.Video
	for _, v := range m.videos {
		if v.SubscriptionID == subscriptionID {
			videos = append(videos, v)
		}
	}
	return videos, nil
}
func (m *mockVideoRepo) Create(_ context.Context, v *model.Video) error {
	m.videos[v.ID] = v
	return nil
}
func (m *mockVideoRepo) Update(_ context.Context, v *model.Video) error {
	m.videos[v.ID] = v
	return nil
}
func (m *mockVideoRepo) Delete(_ context.Context, id string) error {
	delete(m.videos, id)
	m.deleted = append(m.deleted, id)
	return nil
}

// mockQueueRepo はテスト用のQueueRepositoryモック。
type mockQueueRepo struct {
	entries map[string]*model.QueueEntry
}

func newMockQueueRepo() *mockQueueRepo {
	return &mockQueueRepo{entries: make(map[string]*model.QueueEntry)}
}

func (m *mockQueueRepo) ListOrdered(_ context.Context, _ int) ([]*model.QueueEntry, error) {
	return nil, nil
}
func (m *mockQueueRepo) FindByVideoID(_ context.Context, videoID string) (*model.QueueEntry, error) {
	for _, e := range m.entries {
		if e.VideoID == videoID {
			return e, nil
		}
	}
	return nil, nil
}
func (m *mockQueueRepo) Create(_ context.Context, e *model.QueueEntry) error {
	m.entries[e.ID] = e
	return nil
}
func (m *mockQueueRepo) Delete(_ context.Context, id string) error {
	delete(m.entries, id)
	return nil
}
func (m *mockQueueRepo) ReplaceOrders(_ context.Context, _ []*model.QueueEntry) error { return nil }

// mockInboxRepo はテスト用のInboxRepositoryモック。
type mockInboxRepo struct {
	entries map[string]*model.InboxEntry
}

func newMockInboxRepo() *mockInboxRepo {
	return &mockInboxRepo{entries: make(map[string]*model.InboxEntry)}
}

func (m *mockInboxRepo) ListAll(_ context.Context) ([]*model.InboxEntry, error) { return nil, nil }
func (m *mockInboxRepo) ListWithoutDate(_ context.Context) ([]*model.InboxEntry, error) {
	return nil, nil
}
func (m *mockInboxRepo) FindByVideoID(_ context.Context, videoID string) (*model.InboxEntry, error) {
	for _, e := range m.entries {
		if e.VideoID == videoID {
			return e, nil
		}
	}
	return nil, nil
}
func (m *mockInboxRepo) Create(_ context.Context, e *model.InboxEntry) error {
	m.entries[e.ID] = e
	return nil
}
func (m *mockInboxRepo) Delete(_ context.Context, id string) error {
	delete(m.entries, id)
	return nil
}
func (m *mockInboxRepo) UpdateDate(_ context.Context, _ string, _ time.Time) error { return nil }

// mockLoader はテスト用のFeedLoaderモック。feedURLごとに結果もしくはエラーを返す。
// 並列ユニットから呼ばれるためカウンタをミューテックスで保護する。
type mockLoader struct {
	mu         sync.Mutex
	feeds      map[string]*crawler.ChannelFeed
	errs       map[string]error
	fetchCalls int
}

func newMockLoader() *mockLoader {
	return &mockLoader{
		feeds: make(map[string]*crawler.ChannelFeed),
		errs:  make(map[string]error),
	}
}

func (m *mockLoader) LoadChannelFeed(_ context.Context, feedURL string) (*crawler.ChannelFeed, error) {
	m.mu.Lock()
	m.fetchCalls++
	m.mu.Unlock()
	if err, ok := m.errs[feedURL]; ok {
		return nil, err
	}
	if feed, ok := m.feeds[feedURL]; ok {
		return feed, nil
	}
	return nil, model.NewFetchFailedError("モックに未登録のURL: " + feedURL)
}

// mockChannelResolver はテスト用のChannelIDResolverモック。
type mockChannelResolver struct {
	channelIDs map[string]string
}

func (m *mockChannelResolver) ResolveChannelID(_ context.Context, userName string) (string, error) {
	if id, ok := m.channelIDs[userName]; ok {
		return id, nil
	}
	return "", model.NewUsernameResolutionError("未登録のユーザー名: " + userName)
}

// --- テストヘルパー ---

func feedURLFor(channelID string) string {
	return "https://www.youtube.com/feeds/videos.xml?channel_id=" + channelID
}

func newTestService() (*Service, *mockSubRepo, *mockVideoRepo, *mockQueueRepo, *mockInboxRepo, *mockLoader) {
	subRepo := newMockSubRepo()
	videoRepo := newMockVideoRepo()
	queueRepo := newMockQueueRepo()
	inboxRepo := newMockInboxRepo()
	loader := newMockLoader()
	resolver := &mockChannelResolver{channelIDs: make(map[string]string)}
	logger := slog.New(slog.DiscardHandler)
	svc := NewService(subRepo, videoRepo, queueRepo, inboxRepo, loader, resolver, logger, 4)
	return svc, subRepo, videoRepo, queueRepo, inboxRepo, loader
}

// --- 購読追加バッチテスト ---

// TestAddSubscriptions_PartialFailureIsolation は1件の失敗が他の入力に影響しないことをテストする。
func TestAddSubscriptions_PartialFailureIsolation(t *testing.T) {
	svc, subRepo, _, _, _, loader := newTestService()

	loader.feeds[feedURLFor("UC-good1")] = &crawler.ChannelFeed{
		Channel: model.ChannelInfo{ChannelID: "UC-good1", Title: "Good One"},
	}
	loader.errs[feedURLFor("UC-bad")] = model.NewFetchFailedError("接続エラー")
	loader.feeds[feedURLFor("UC-good2")] = &crawler.ChannelFeed{
		Channel: model.ChannelInfo{ChannelID: "UC-good2", Title: "Good Two"},
	}

	states, err := svc.AddSubscriptions(context.Background(), []model.SubscriptionInput{
		{Channel: &model.ChannelInfo{ChannelID: "UC-good1"}},
		{Channel: &model.ChannelInfo{ChannelID: "UC-bad"}},
		{Channel: &model.ChannelInfo{ChannelID: "UC-good2"}},
	})
	if err != nil {
		t.Fatalf("AddSubscriptions returned error: %v", err)
	}

	if len(states) != 3 {
		t.Fatalf("結果数が不正: got %d, want 3", len(states))
	}
	if !states[0].Success || !states[2].Success {
		t.Errorf("成功すべき入力が失敗している: %+v", states)
	}
	if states[1].Success || states[1].Error == "" {
		t.Errorf("失敗すべき入力が成功扱い: %+v", states[1])
	}

	// 成功した2件は両方ストアに存在する
	for _, channelID := range []string{"UC-good1", "UC-good2"} {
		sub, _ := subRepo.FindByChannelID(context.Background(), channelID)
		if sub == nil {
			t.Errorf("購読が保存されていない: %s", channelID)
		}
	}
	if subRepo.commitBatchCalls != 1 {
		t.Errorf("コミット回数が不正: got %d, want 1", subRepo.commitBatchCalls)
	}
}

// TestAddSubscriptions_ResubscribeUnarchives はアーカイブ済みチャンネルへの再購読で
// アーカイブが解除され、2件目の購読が作成されないことをテストする。
func TestAddSubscriptions_ResubscribeUnarchives(t *testing.T) {
	svc, subRepo, _, _, _, loader := newTestService()

	subRepo.subs["sub-1"] = &model.Subscription{
		ID:               "sub-1",
		Title:            "Archived Channel",
		YoutubeChannelID: "UC-existing",
		IsArchived:       true,
	}

	states, err := svc.AddSubscriptions(context.Background(), []model.SubscriptionInput{
		{Channel: &model.ChannelInfo{ChannelID: "UC-existing"}},
	})
	if err != nil {
		t.Fatalf("AddSubscriptions returned error: %v", err)
	}

	if !states[0].AlreadyAdded || !states[0].Success {
		t.Errorf("alreadyAddedになっていない: %+v", states[0])
	}
	if states[0].Title != "Archived Channel" {
		t.Errorf("既存タイトルが返っていない: got %q", states[0].Title)
	}
	if loader.fetchCalls != 0 {
		t.Errorf("既存購読なのにフェッチが実行された: calls=%d", loader.fetchCalls)
	}
	if subRepo.subs["sub-1"].IsArchived {
		t.Error("アーカイブが解除されていない")
	}
	if len(subRepo.subs) != 1 {
		t.Errorf("購読が重複作成された: count=%d", len(subRepo.subs))
	}
}

// TestAddSubscriptions_RecheckByFetchedChannelID は入力にチャンネルIDがなく
// フィードが開示したIDで既存購読が見つかるケースをテストする。
func TestAddSubscriptions_RecheckByFetchedChannelID(t *testing.T) {
	svc, subRepo, _, _, _, loader := newTestService()

	subRepo.subs["sub-1"] = &model.Subscription{
		ID:               "sub-1",
		Title:            "Known Channel",
		YoutubeChannelID: "UC-revealed",
	}

	// 生のフィードURL入力。ユーザー名もチャンネルIDも持たない
	rawFeedURL := feedURLFor("UC-revealed")
	loader.feeds[rawFeedURL] = &crawler.ChannelFeed{
		Channel: model.ChannelInfo{ChannelID: "UC-revealed", Title: "Known Channel"},
	}

	states, err := svc.AddSubscriptions(context.Background(), []model.SubscriptionInput{
		{URL: rawFeedURL},
	})
	if err != nil {
		t.Fatalf("AddSubscriptions returned error: %v", err)
	}

	if !states[0].AlreadyAdded {
		t.Errorf("フェッチ後の再確認でalreadyAddedになっていない: %+v", states[0])
	}
	if len(subRepo.subs) != 1 {
		t.Errorf("購読が重複作成された: count=%d", len(subRepo.subs))
	}
}

// TestAddSubscriptions_InBatchDuplicate はバッチ内の同一チャンネル重複が
// 1件のみ挿入されることをテストする。
func TestAddSubscriptions_InBatchDuplicate(t *testing.T) {
	svc, subRepo, _, _, _, loader := newTestService()

	loader.feeds[feedURLFor("UC-dup")] = &crawler.ChannelFeed{
		Channel: model.ChannelInfo{ChannelID: "UC-dup", Title: "Dup Channel"},
	}

	states, err := svc.AddSubscriptions(context.Background(), []model.SubscriptionInput{
		{Channel: &model.ChannelInfo{ChannelID: "UC-dup"}},
		{Channel: &model.ChannelInfo{ChannelID: "UC-dup"}},
	})
	if err != nil {
		t.Fatalf("AddSubscriptions returned error: %v", err)
	}

	if len(subRepo.lastNewSubs) != 1 {
		t.Errorf("挿入件数が不正: got %d, want 1", len(subRepo.lastNewSubs))
	}
	alreadyAdded := 0
	for _, state := range states {
		if state.AlreadyAdded {
			alreadyAdded++
		}
	}
	if alreadyAdded != 1 {
		t.Errorf("バッチ内重複がalreadyAddedになっていない: count=%d", alreadyAdded)
	}
}

// TestAddSubscriptions_MergePrefersLocalMetadata は呼び出し元のメタデータが
// フェッチ結果より優先されることをテストする。
func TestAddSubscriptions_MergePrefersLocalMetadata(t *testing.T) {
	svc, subRepo, _, _, _, loader := newTestService()

	loader.feeds["https://example.com/custom-feed"] = &crawler.ChannelFeed{
		Channel: model.ChannelInfo{
			ChannelID:    "UC-merge",
			Title:        "Fetched Title",
			ThumbnailURL: "https://example.com/fetched.jpg",
		},
	}

	_, err := svc.AddSubscriptions(context.Background(), []model.SubscriptionInput{
		{Channel: &model.ChannelInfo{
			ChannelID: "UC-merge",
			FeedURL:   "https://example.com/custom-feed",
			Title:     "Local Title",
		}},
	})
	if err != nil {
		t.Fatalf("AddSubscriptions returned error: %v", err)
	}

	sub, _ := subRepo.FindByChannelID(context.Background(), "UC-merge")
	if sub == nil {
		t.Fatal("購読が保存されていない")
	}
	if sub.Title != "Local Title" {
		t.Errorf("ローカルのタイトルが優先されていない: got %q", sub.Title)
	}
	if sub.ThumbnailURL != "https://example.com/fetched.jpg" {
		t.Errorf("不足フィールドがフェッチ結果で補完されていない: got %q", sub.ThumbnailURL)
	}
}

// TestAddSubscriptions_NoIdentity はURLもチャンネル情報もない入力が失敗することをテストする。
func TestAddSubscriptions_NoIdentity(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	states, err := svc.AddSubscriptions(context.Background(), []model.SubscriptionInput{{}})
	if err != nil {
		t.Fatalf("AddSubscriptions returned error: %v", err)
	}
	if states[0].Success || states[0].Error == "" {
		t.Errorf("入力なしが失敗扱いになっていない: %+v", states[0])
	}
}

// --- SubscribeTo テスト ---

// TestSubscribeTo_ExistingIDSkipsNetwork はexistingID指定でネットワークを介さず
// アーカイブ解除されることをテストする。
func TestSubscribeTo_ExistingIDSkipsNetwork(t *testing.T) {
	svc, subRepo, _, _, _, loader := newTestService()

	subRepo.subs["sub-1"] = &model.Subscription{
		ID:               "sub-1",
		YoutubeChannelID: "UC-x",
		IsArchived:       true,
	}

	if err := svc.SubscribeTo(context.Background(), "", "sub-1"); err != nil {
		t.Fatalf("SubscribeTo returned error: %v", err)
	}

	if loader.fetchCalls != 0 {
		t.Errorf("existingID指定なのにフェッチが実行された: calls=%d", loader.fetchCalls)
	}
	if subRepo.subs["sub-1"].IsArchived {
		t.Error("アーカイブが解除されていない")
	}
	if subRepo.subs["sub-1"].SubscribedDate == nil {
		t.Error("subscribed_dateが更新されていない")
	}
}

// TestSubscribeTo_UnknownExistingID は存在しないexistingIDがエラーになることをテストする。
func TestSubscribeTo_UnknownExistingID(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	if err := svc.SubscribeTo(context.Background(), "", "missing"); err == nil {
		t.Fatal("存在しない購読IDがエラーにならなかった")
	}
}

// --- IsSubscribed テスト ---

// TestIsSubscribed_BackfillsMetadata は購読確認時に不足メタデータが補完されることをテストする。
func TestIsSubscribed_BackfillsMetadata(t *testing.T) {
	svc, subRepo, _, _, _, _ := newTestService()

	subRepo.subs["sub-1"] = &model.Subscription{
		ID:               "sub-1",
		Title:            "Channel",
		YoutubeChannelID: "UC-x",
	}

	subscribed, err := svc.IsSubscribed(context.Background(), "UC-x", &model.ChannelInfo{
		UserName:     "someuser",
		ThumbnailURL: "https://example.com/thumb.jpg",
	})
	if err != nil {
		t.Fatalf("IsSubscribed returned error: %v", err)
	}
	if !subscribed {
		t.Error("購読中なのにfalseが返った")
	}

	sub := subRepo.subs["sub-1"]
	if sub.YoutubeUserName != "someuser" {
		t.Errorf("ユーザー名が補完されていない: got %q", sub.YoutubeUserName)
	}
	if sub.ThumbnailURL != "https://example.com/thumb.jpg" {
		t.Errorf("サムネイルが補完されていない: got %q", sub.ThumbnailURL)
	}
}

// TestIsSubscribed_ArchivedReturnsFalse はアーカイブ済み購読でfalseが返り、
// アーカイブ状態が変更されないことをテストする。
func TestIsSubscribed_ArchivedReturnsFalse(t *testing.T) {
	svc, subRepo, _, _, _, _ := newTestService()

	subRepo.subs["sub-1"] = &model.Subscription{
		ID:               "sub-1",
		YoutubeChannelID: "UC-x",
		IsArchived:       true,
	}

	subscribed, err := svc.IsSubscribed(context.Background(), "UC-x", &model.ChannelInfo{UserName: "u"})
	if err != nil {
		t.Fatalf("IsSubscribed returned error: %v", err)
	}
	if subscribed {
		t.Error("アーカイブ済みなのにtrueが返った")
	}
	if !subRepo.subs["sub-1"].IsArchived {
		t.Error("アーカイブ状態が変更された")
	}
}

// TestIsSubscribed_NotFound は未知のチャンネルでfalseが返ることをテストする。
func TestIsSubscribed_NotFound(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	subscribed, err := svc.IsSubscribed(context.Background(), "UC-unknown", nil)
	if err != nil {
		t.Fatalf("IsSubscribed returned error: %v", err)
	}
	if subscribed {
		t.Error("未知のチャンネルでtrueが返った")
	}
}

// --- 購読解除テスト ---

// TestUnsubscribe_PurgeRule は購読解除時の動画保持規則をテストする。
// 視聴済み動画は保持、キュー参照のある動画は保持、どちらでもない動画は削除。
func TestUnsubscribe_PurgeRule(t *testing.T) {
	svc, subRepo, videoRepo, queueRepo, _, _ := newTestService()
	ctx := context.Background()

	subRepo.subs["sub-1"] = &model.Subscription{
		ID:                  "sub-1",
		YoutubeChannelID:    "UC-x",
		MostRecentVideoDate: timePtr(time.Now()),
	}

	// Video A: 視聴済み、参照なし → 保持
	videoRepo.Create(ctx, &model.Video{ID: "video-a", SubscriptionID: "sub-1", Watched: true})
	// Video B: 未視聴、キュー参照あり → 保持
	videoRepo.Create(ctx, &model.Video{ID: "video-b", SubscriptionID: "sub-1"})
	queueRepo.Create(ctx, &model.QueueEntry{ID: "q-1", VideoID: "video-b"})
	// Video C: 未視聴、参照なし → 削除
	videoRepo.Create(ctx, &model.Video{ID: "video-c", SubscriptionID: "sub-1"})

	if err := svc.Unsubscribe(ctx, "UC-x"); err != nil {
		t.Fatalf("Unsubscribe returned error: %v", err)
	}

	sub := subRepo.subs["sub-1"]
	if !sub.IsArchived {
		t.Error("購読がアーカイブされていない")
	}
	if sub.MostRecentVideoDate != nil {
		t.Error("most_recent_video_dateがクリアされていない")
	}

	if _, ok := videoRepo.videos["video-a"]; !ok {
		t.Error("視聴済み動画が削除された")
	}
	if _, ok := videoRepo.videos["video-b"]; !ok {
		t.Error("キュー参照のある動画が削除された")
	}
	if _, ok := queueRepo.entries["q-1"]; !ok {
		t.Error("保持すべき動画のキューエントリが削除された")
	}
	if _, ok := videoRepo.videos["video-c"]; ok {
		t.Error("未視聴・未参照動画が削除されていない")
	}
}

// TestUnsubscribe_NotFound は未知のチャンネルの購読解除がエラーになることをテストする。
func TestUnsubscribe_NotFound(t *testing.T) {
	svc, _, _, _, _, _ := newTestService()

	if err := svc.Unsubscribe(context.Background(), "UC-unknown"); err == nil {
		t.Fatal("未知チャンネルの購読解除がエラーにならなかった")
	}
}

// --- フィードURL一覧テスト ---

// TestListFeedURLs はアーカイブ除外フラグの動作をテストする。
func TestListFeedURLs(t *testing.T) {
	svc, subRepo, _, _, _, _ := newTestService()

	subRepo.subs["sub-1"] = &model.Subscription{
		ID: "sub-1", Title: "Active", Link: "https://example.com/a", YoutubeChannelID: "UC-a",
	}
	subRepo.subs["sub-2"] = &model.Subscription{
		ID: "sub-2", Title: "Archived", Link: "https://example.com/b", YoutubeChannelID: "UC-b",
		IsArchived: true,
	}

	active, err := svc.ListFeedURLs(context.Background(), false)
	if err != nil {
		t.Fatalf("ListFeedURLs returned error: %v", err)
	}
	if len(active) != 1 || active[0].Title != "Active" {
		t.Errorf("アーカイブ除外の一覧が不正: %+v", active)
	}

	all, err := svc.ListFeedURLs(context.Background(), true)
	if err != nil {
		t.Fatalf("ListFeedURLs returned error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("全件一覧が不正: got %d, want 2", len(all))
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
