package item

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/market/internal/imaging"
	"github.com/hitoshi/market/internal/model"
	"github.com/hitoshi/market/internal/repository"
	"github.com/hitoshi/market/internal/security"
	"github.com/hitoshi/market/internal/storage"
)

// --- テスト用モック ---

// memRepo は商品と画像をメモリ上に保持するItemRepository/PictureRepositoryの実装。
// 呼び出し順序をeventsに記録する。
type memRepo struct {
	items    map[string]*model.Item
	pictures map[string]*model.Picture
	users    map[string]*model.User
	events   *[]string

	deleteErr   error
	pictureErr  error
	transferErr error
}

func newMemRepo(events *[]string) *memRepo {
	return &memRepo{
		items:    map[string]*model.Item{},
		pictures: map[string]*model.Picture{},
		users:    map[string]*model.User{},
		events:   events,
	}
}

func (r *memRepo) log(format string, args ...any) {
	*r.events = append(*r.events, fmt.Sprintf(format, args...))
}

func (r *memRepo) picturesOf(itemID string) []model.Picture {
	out := []model.Picture{}
	for _, p := range r.pictures {
		if p.ItemID == itemID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memRepo) FindByID(_ context.Context, id string) (*model.Item, error) {
	it, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	cp := *it
	cp.Pictures = r.picturesOf(id)
	return &cp, nil
}

func (r *memRepo) ListByOwner(_ context.Context, ownerID string) ([]model.Item, error) {
	out := []model.Item{}
	for _, it := range r.items {
		if it.OwnerID == ownerID {
			cp := *it
			cp.Pictures = r.picturesOf(it.ID)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) Search(context.Context, repository.ItemQuery) ([]model.Item, int, error) {
	return nil, 0, nil
}

func (r *memRepo) Create(_ context.Context, item *model.Item) error {
	r.log("item.create")
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *memRepo) Update(_ context.Context, item *model.Item) error {
	if _, ok := r.items[item.ID]; !ok {
		return repository.ErrNotFound
	}
	r.log("item.update")
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *memRepo) DeleteWithPictures(_ context.Context, id string) error {
	r.log("item.delete_tx")
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.items[id]; !ok {
		return fmt.Errorf("item %s: %w", id, repository.ErrNotFound)
	}
	for pid, p := range r.pictures {
		if p.ItemID == id {
			delete(r.pictures, pid)
		}
	}
	delete(r.items, id)
	return nil
}

func (r *memRepo) Transfer(_ context.Context, itemID, buyerID string, check repository.TransferCheck) (*model.Item, error) {
	if r.transferErr != nil {
		return nil, r.transferErr
	}
	it, ok := r.items[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", itemID, repository.ErrNotFound)
	}
	buyer, ok := r.users[buyerID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", buyerID, repository.ErrNotFound)
	}
	itemCopy, buyerCopy := *it, *buyer
	if err := check(&itemCopy, &buyerCopy); err != nil {
		return nil, err
	}
	buyer.Budget -= it.Price
	it.OwnerID = buyerID
	cp := *it
	return &cp, nil
}

// pictureRepo はmemRepoの画像操作をPictureRepositoryとして公開する。
type pictureRepo struct{ *memRepo }

func (p pictureRepo) Create(_ context.Context, pic *model.Picture) error {
	p.log("picture.create:%s", pic.Filename)
	if p.pictureErr != nil {
		return p.pictureErr
	}
	cp := *pic
	p.pictures[pic.ID] = &cp
	return nil
}

func (p pictureRepo) FindByID(_ context.Context, id string) (*model.Picture, error) {
	pic, ok := p.pictures[id]
	if !ok {
		return nil, nil
	}
	cp := *pic
	return &cp, nil
}

func (p pictureRepo) DeleteByID(_ context.Context, id string) error {
	p.log("picture.delete")
	if _, ok := p.pictures[id]; !ok {
		return repository.ErrNotFound
	}
	delete(p.pictures, id)
	return nil
}

func (p pictureRepo) ListByItem(_ context.Context, itemID string) ([]model.Picture, error) {
	return p.picturesOf(itemID), nil
}

// fakeIngester は画像パイプラインのモック。
type fakeIngester struct {
	events *[]string
	seq    int
	failOn map[string]error
}

func (f *fakeIngester) Ingest(_ context.Context, up imaging.Upload, kind imaging.Kind, targetID string) (string, error) {
	if err, ok := f.failOn[up.Filename]; ok {
		return "", err
	}
	f.seq++
	name := fmt.Sprintf("file%d.jpg", f.seq)
	*f.events = append(*f.events, fmt.Sprintf("file.write:%s", name))
	return name, nil
}

// fakeFiles はFileRemoverのモック。
type fakeFiles struct {
	events       *[]string
	removeDirErr error
	removeErr    error
	removed      []storage.Key
}

func (f *fakeFiles) Remove(_ context.Context, key storage.Key) error {
	*f.events = append(*f.events, "file.remove")
	f.removed = append(f.removed, key)
	return f.removeErr
}

func (f *fakeFiles) RemoveDir(_ context.Context, kind storage.Kind, targetID string) error {
	*f.events = append(*f.events, fmt.Sprintf("dir.remove:%s:%s", kind, targetID))
	return f.removeDirErr
}

// mockRecorder はRecorderのモック。
type mockRecorder struct {
	purchases int
	cleanups  []string
}

func (m *mockRecorder) RecordPurchase() { m.purchases++ }
func (m *mockRecorder) RecordCleanupFailure(target string) { m.cleanups = append(m.cleanups, target) }

type fixture struct {
	svc      *Service
	repo     *memRepo
	ingester *fakeIngester
	files    *fakeFiles
	metrics  *mockRecorder
	events   *[]string
}

func newFixture() *fixture {
	events := &[]string{}
	repo := newMemRepo(events)
	ingester := &fakeIngester{events: events, failOn: map[string]error{}}
	files := &fakeFiles{events: events}
	metrics := &mockRecorder{}
	svc := NewService(repo, pictureRepo{repo}, ingester, files, security.NewTextSanitizer(), metrics)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return &fixture{svc: svc, repo: repo, ingester: ingester, files: files, metrics: metrics, events: events}
}

func validInput() Input {
	return Input{
		Name:        "Phone",
		Price:       80,
		Category:    "electronics",
		Description: "Barely used",
		Location:    "Cairo",
		Delivery:    "Yes",
	}
}

func upload(name string) imaging.Upload {
	return imaging.Upload{Filename: name, Content: bytes.NewReader([]byte("data"))}
}

func (f *fixture) seedItem(t *testing.T, owner string, pictures ...string) *model.Item {
	t.Helper()
	id := fmt.Sprintf("item-%d", len(f.repo.items)+1)
	f.repo.items[id] = &model.Item{ID: id, Name: "Seed", Price: 60, Category: model.CategoryClothes,
		Description: "d", Location: "Giza", Delivery: model.DeliveryNo, OwnerID: owner}
	for i, name := range pictures {
		pid := fmt.Sprintf("%s-pic-%d", id, i)
		f.repo.pictures[pid] = &model.Picture{ID: pid, ItemID: id, Filename: name}
	}
	return f.repo.items[id]
}

func assertKind(t *testing.T, err error, want model.ErrorKind) {
	t.Helper()
	if got := model.KindOf(err); got != want {
		t.Fatalf("error kind = %q, want %q (err=%v)", got, want, err)
	}
}

// --- テスト ---

func TestCanRemove(t *testing.T) {
	item := &model.Item{ID: "i1", OwnerID: "u1"}
	if !CanRemove("u1", item) {
		t.Error("owner should be allowed")
	}
	if CanRemove("u2", item) {
		t.Error("non-owner should be denied")
	}
	if CanRemove("", item) {
		t.Error("anonymous should be denied")
	}
	if CanRemove("u1", nil) {
		t.Error("nil item should be denied")
	}
}

// TestService_Create_WritesFileBeforeRow はファイル保存後に画像行が作成されることを検証する。
func TestService_Create_WritesFileBeforeRow(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Create(context.Background(), "owner-1", validInput(), []imaging.Upload{upload("a.jpg"), upload("b.PNG")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", res.Warnings)
	}
	if len(res.Item.Pictures) != 2 {
		t.Fatalf("pictures = %d, want 2", len(res.Item.Pictures))
	}

	want := []string{
		"item.create",
		"file.write:file1.jpg", "picture.create:file1.jpg",
		"file.write:file2.jpg", "picture.create:file2.jpg",
	}
	if strings.Join(*f.events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", *f.events, want)
	}
	if res.Item.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %q, want owner-1", res.Item.OwnerID)
	}
}

// TestService_Create_RejectsBadExtensionBeforeAnyWrite は拡張子違反で何も作成されないことを検証する。
func TestService_Create_RejectsBadExtensionBeforeAnyWrite(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), "owner-1", validInput(), []imaging.Upload{upload("a.jpg"), upload("anim.gif")})
	assertKind(t, err, model.KindValidation)
	if len(*f.events) != 0 {
		t.Errorf("events = %v, want none", *f.events)
	}
	if len(f.repo.items) != 0 {
		t.Errorf("items = %d, want 0", len(f.repo.items))
	}
}

// TestService_Create_IngestFailureIsWarning は画像の失敗が警告となり商品は作成されることを検証する。
func TestService_Create_IngestFailureIsWarning(t *testing.T) {
	f := newFixture()
	f.ingester.failOn["broken.jpg"] = model.NewMalformedImageError()

	res, err := f.svc.Create(context.Background(), "owner-1", validInput(), []imaging.Upload{upload("broken.jpg"), upload("ok.jpg")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", res.Warnings)
	}
	assertKind(t, res.Warnings[0], model.KindValidation)
	if len(res.Item.Pictures) != 1 {
		t.Errorf("pictures = %d, want 1", len(res.Item.Pictures))
	}
	if _, ok := f.repo.items[res.Item.ID]; !ok {
		t.Error("item should be created")
	}
}

// TestService_Create_PictureRowFailureRemovesFile は画像行の作成失敗時に保存済みファイルを削除することを検証する。
func TestService_Create_PictureRowFailureRemovesFile(t *testing.T) {
	f := newFixture()
	f.repo.pictureErr = errors.New("insert failed")

	res, err := f.svc.Create(context.Background(), "owner-1", validInput(), []imaging.Upload{upload("a.jpg")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", res.Warnings)
	}
	if len(f.files.removed) != 1 || f.files.removed[0].Filename != "file1.jpg" {
		t.Errorf("removed = %v, want file1.jpg", f.files.removed)
	}
}

func TestService_Create_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"empty name", func(in *Input) { in.Name = "  " }},
		{"long name", func(in *Input) { in.Name = strings.Repeat("x", 31) }},
		{"zero price", func(in *Input) { in.Price = 0 }},
		{"unknown category", func(in *Input) { in.Category = "toys" }},
		{"empty description", func(in *Input) { in.Description = "<b></b>" }},
		{"long description", func(in *Input) { in.Description = strings.Repeat("x", 1501) }},
		{"long location", func(in *Input) { in.Location = strings.Repeat("x", 201) }},
		{"bad delivery", func(in *Input) { in.Delivery = "Maybe" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			in := validInput()
			tt.mutate(&in)

			_, err := f.svc.Create(context.Background(), "owner-1", in, nil)
			assertKind(t, err, model.KindValidation)
			if len(f.repo.items) != 0 {
				t.Error("item must not be created")
			}
		})
	}
}

func TestService_Create_SanitizesText(t *testing.T) {
	f := newFixture()
	in := validInput()
	in.Description = "<script>alert(1)</script><b>Nice</b> phone"
	in.Location = "<i>Cairo</i>"

	res, err := f.svc.Create(context.Background(), "owner-1", in, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Item.Description != "Nice phone" {
		t.Errorf("Description = %q, want %q", res.Item.Description, "Nice phone")
	}
	if res.Item.Location != "Cairo" {
		t.Errorf("Location = %q, want Cairo", res.Item.Location)
	}
}

func TestService_Update_NonOwnerIsForbidden(t *testing.T) {
	f := newFixture()
	item := f.seedItem(t, "owner-1")

	_, err := f.svc.Update(context.Background(), "intruder", item.ID, validInput(), nil)
	assertKind(t, err, model.KindAuthz)
	if f.repo.items[item.ID].Name != "Seed" {
		t.Error("item must not change")
	}
}

func TestService_Update_KeepsDeliveryAndAppendsPictures(t *testing.T) {
	f := newFixture()
	item := f.seedItem(t, "owner-1", "old.jpg")
	in := validInput()
	in.Delivery = ""

	res, err := f.svc.Update(context.Background(), "owner-1", item.ID, in, []imaging.Upload{upload("new.jpg")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Item.Delivery != model.DeliveryNo {
		t.Errorf("Delivery = %q, want No (kept)", res.Item.Delivery)
	}
	if res.Item.Name != "Phone" || res.Item.Price != 80 {
		t.Errorf("item = %+v, want updated fields", res.Item)
	}
	if len(res.Item.Pictures) != 2 {
		t.Errorf("pictures = %d, want 2", len(res.Item.Pictures))
	}
}

func TestService_Update_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Update(context.Background(), "owner-1", "missing", validInput(), nil)
	assertKind(t, err, model.KindNotFound)
}

// TestService_Remove_CascadesPicturesAndDirectory は商品削除で画像行・商品行・画像ディレクトリが
// 全て削除され、ディレクトリが先に削除されることを検証する。
func TestService_Remove_CascadesPicturesAndDirectory(t *testing.T) {
	f := newFixture()
	item := f.seedItem(t, "owner-1", "a.jpg", "b.jpg", "c.jpg")
	other := f.seedItem(t, "owner-1", "keep.jpg")

	res, err := f.svc.Remove(context.Background(), "owner-1", item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK() {
		t.Errorf("result = %+v, want OK", res)
	}

	want := []string{"dir.remove:item:" + item.ID, "item.delete_tx"}
	if strings.Join(*f.events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", *f.events, want)
	}
	if _, ok := f.repo.items[item.ID]; ok {
		t.Error("item row still exists")
	}
	if n := len(f.repo.picturesOf(item.ID)); n != 0 {
		t.Errorf("pictures left = %d, want 0", n)
	}
	if n := len(f.repo.picturesOf(other.ID)); n != 1 {
		t.Errorf("other item's pictures = %d, want 1", n)
	}
}

func TestService_Remove_NonOwnerIsForbidden(t *testing.T) {
	f := newFixture()
	item := f.seedItem(t, "owner-1", "a.jpg")

	_, err := f.svc.Remove(context.Background(), "intruder", item.ID)
	assertKind(t, err, model.KindAuthz)
	if len(*f.events) != 0 {
		t.Errorf("events = %v, want none", *f.events)
	}
}

// TestService_Remove_DirectoryFailureIsReportedSeparately はディレクトリ削除に失敗しても
// 行は削除され、失敗が後始末として報告されることを検証する。
func TestService_Remove_DirectoryFailureIsReportedSeparately(t *testing.T) {
	f := newFixture()
	item := f.seedItem(t, "owner-1", "a.jpg")
	f.files.removeDirErr = errors.New("permission denied")

	res, err := f.svc.Remove(context.Background(), "owner-1", item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.CleanupFailed() {
		t.Error("CleanupFailed = false, want true")
	}
	assertKind(t, res.Cleanup, model.KindTransient)
	if _, ok := f.repo.items[item.ID]; ok {
		t.Error("item row should still be deleted")
	}
	if len(f.metrics.cleanups) != 1 || f.metrics.cleanups[0] != "item_dir" {
		t.Errorf("cleanup metrics = %v, want [item_dir]", f.metrics.cleanups)
	}
}

func TestService_Remove_TransactionFailure(t *testing.T) {
	f := newFixture()
	item := f.seedItem(t, "owner-1", "a.jpg")
	f.repo.deleteErr = errors.New("deadlock detected")

	_, err := f.svc.Remove(context.Background(), "owner-1", item.ID)
	if !errors.Is(err, f.repo.deleteErr) {
		t.Fatalf("err = %v, want wrapped %v", err, f.repo.deleteErr)
	}
	if _, ok := f.repo.items[item.ID]; !ok {
		t.Error("item must remain after rollback")
	}
}

func TestService_RemovePicture(t *testing.T) {
	f := newFixture()
	item := f.seedItem(t, "owner-1", "a.jpg", "b.jpg")
	pid := item.ID + "-pic-0"

	res, err := f.svc.RemovePicture(context.Background(), "owner-1", pid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK() {
		t.Errorf("result = %+v, want OK", res)
	}
	if len(f.files.removed) != 1 || f.files.removed[0] != (storage.Key{Kind: storage.KindItem, TargetID: item.ID, Filename: "a.jpg"}) {
		t.Errorf("removed = %v", f.files.removed)
	}
	if n := len(f.repo.picturesOf(item.ID)); n != 1 {
		t.Errorf("pictures left = %d, want 1", n)
	}
	if (*f.events)[0] != "file.remove" || (*f.events)[1] != "picture.delete" {
		t.Errorf("events = %v, want file before row", *f.events)
	}
}

func TestService_RemovePicture_Errors(t *testing.T) {
	f := newFixture()
	item := f.seedItem(t, "owner-1", "a.jpg")

	_, err := f.svc.RemovePicture(context.Background(), "owner-1", "missing")
	assertKind(t, err, model.KindNotFound)

	_, err = f.svc.RemovePicture(context.Background(), "intruder", item.ID+"-pic-0")
	assertKind(t, err, model.KindAuthz)

	f.files.removeErr = errors.New("io error")
	res, err := f.svc.RemovePicture(context.Background(), "owner-1", item.ID+"-pic-0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.CleanupFailed() {
		t.Error("file removal failure should be reported as cleanup failure")
	}
	if n := len(f.repo.picturesOf(item.ID)); n != 0 {
		t.Errorf("pictures left = %d, want 0", n)
	}
}

func TestService_Buy(t *testing.T) {
	f := newFixture()
	item := f.seedItem(t, "seller")
	f.repo.users["buyer"] = &model.User{ID: "buyer", Budget: 100}

	got, err := f.svc.Buy(context.Background(), "buyer", item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OwnerID != "buyer" {
		t.Errorf("OwnerID = %q, want buyer", got.OwnerID)
	}
	if f.repo.users["buyer"].Budget != 40 {
		t.Errorf("Budget = %d, want 40", f.repo.users["buyer"].Budget)
	}
	if f.metrics.purchases != 1 {
		t.Errorf("purchases = %d, want 1", f.metrics.purchases)
	}
}

func TestService_Buy_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		buyer    string
		budget   int64
		wantCode string
	}{
		{"insufficient budget", "buyer", 59, model.ErrCodeInsufficientBudget},
		{"own item", "seller", 1000, model.ErrCodeOwnItem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			item := f.seedItem(t, "seller")
			f.repo.users[tt.buyer] = &model.User{ID: tt.buyer, Budget: tt.budget}

			_, err := f.svc.Buy(context.Background(), tt.buyer, item.ID)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode {
				t.Fatalf("err = %v, want code %s", err, tt.wantCode)
			}
			if f.repo.items[item.ID].OwnerID != "seller" {
				t.Error("owner must not change")
			}
			if f.repo.users[tt.buyer].Budget != tt.budget {
				t.Error("budget must not change")
			}
			if f.metrics.purchases != 0 {
				t.Error("purchase must not be recorded")
			}
		})
	}
}

func TestService_Buy_NotFound(t *testing.T) {
	f := newFixture()
	f.repo.users["buyer"] = &model.User{ID: "buyer", Budget: 100}

	_, err := f.svc.Buy(context.Background(), "buyer", "missing")
	assertKind(t, err, model.KindNotFound)
}

func TestService_Get_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Get(context.Background(), "missing")
	assertKind(t, err, model.KindNotFound)
}
