package backend

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/any-hub/tierhub/internal/blob"
	"github.com/any-hub/tierhub/internal/metadata"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	store, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return New(store, Options{Tier: "remote"})
}

func TestPackageListAddRemove(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for _, name := range []string{"left-pad", "@corp/util", "left-pad"} {
		if err := b.Add(ctx, name); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	list, err := b.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"left-pad", "@corp/util"}, list); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}

	if err := b.Remove(ctx, "left-pad"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := b.Remove(ctx, "left-pad"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove should be ErrNotFound, got %v", err)
	}
	if err := b.Add(ctx, "../escape"); err == nil {
		t.Fatalf("非法包名应被拒绝")
	}
}

func TestSecretRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	secret, err := b.GetSecret(ctx)
	if err != nil || secret != "" {
		t.Fatalf("初始 secret 应为空: %q %v", secret, err)
	}
	if err := b.SetSecret(ctx, "s3cr3t"); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	if err := b.Add(ctx, "left-pad"); err != nil {
		t.Fatalf("add: %v", err)
	}
	secret, _ = b.GetSecret(ctx)
	if secret != "s3cr3t" {
		t.Fatalf("写包列表不应覆盖 secret: %q", secret)
	}
}

func TestTokens(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	tokens := []Token{
		{User: "alice", Key: "k1", Token: "t1", Created: 1},
		{User: "alice", Key: "k2", Token: "t2", Readonly: true, Created: 2},
		{User: "bob", Key: "k1", Token: "t3", Created: 3},
		{User: "alice", Key: "k1", Token: "t1-rotated", Created: 4},
	}
	for _, token := range tokens {
		if err := b.SaveToken(ctx, token); err != nil {
			t.Fatalf("save token: %v", err)
		}
	}

	got, err := b.ReadTokens(ctx, TokenFilter{User: "alice"})
	if err != nil {
		t.Fatalf("read tokens: %v", err)
	}
	want := []Token{tokens[1], tokens[3]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}

	if err := b.DeleteToken(ctx, "alice", "k2"); err != nil {
		t.Fatalf("delete token: %v", err)
	}
	if err := b.DeleteToken(ctx, "alice", "k2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleting twice should be ErrNotFound, got %v", err)
	}
	if err := b.DeleteToken(ctx, "bob", "k1"); err != nil {
		t.Fatalf("delete last token: %v", err)
	}
	empty, err := b.ReadTokens(ctx, TokenFilter{User: "bob"})
	if err != nil || len(empty) != 0 {
		t.Fatalf("bob should have no tokens: %v %v", empty, err)
	}
	if _, err := b.ReadTokens(ctx, TokenFilter{User: "../alice"}); err == nil {
		t.Fatalf("非法用户名应报错")
	}
}

func TestSearchWalksPackageMetadata(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for _, name := range []string{"left-pad", "@corp/util", "right-pad"} {
		if err := b.PackageStore(name).SavePackage(ctx, metadata.NewTemplate(name)); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	if err := b.PackageStore("tarball-only").WriteTarball(ctx, "tarball-only-1.0.0.tgz", strings.NewReader("x")); err != nil {
		t.Fatalf("write tarball: %v", err)
	}
	if err := b.SetSecret(ctx, "s"); err != nil {
		t.Fatalf("set secret: %v", err)
	}

	results, err := b.Search(ctx, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var names []string
	for _, r := range results {
		names = append(names, r.Name)
		if r.Time.IsZero() {
			t.Fatalf("search result %s missing time", r.Name)
		}
	}
	if diff := cmp.Diff([]string{"@corp/util", "left-pad", "right-pad"}, names); diff != "" {
		t.Fatalf("search mismatch (-want +got):\n%s", diff)
	}

	filtered, err := b.Search(ctx, func(name string) bool { return strings.HasSuffix(name, "-pad") })
	if err != nil || len(filtered) != 2 {
		t.Fatalf("filtered search: %v %v", filtered, err)
	}
}

func TestPackageStoreLifecycle(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	ps := b.PackageStore("@corp/util")

	if _, err := ps.ReadPackage(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := ps.CreatePackage(ctx, metadata.NewTemplate("@corp/util")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ps.CreatePackage(ctx, metadata.NewTemplate("@corp/util")); !errors.Is(err, ErrExists) {
		t.Fatalf("second create should be ErrExists, got %v", err)
	}

	updated, err := ps.UpdatePackage(ctx, func(pkg *metadata.Package) error {
		pkg.DistTags["latest"] = "1.0.0"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	reread, _ := ps.ReadPackage(ctx)
	if reread.DistTags["latest"] != "1.0.0" || updated.DistTags["latest"] != "1.0.0" {
		t.Fatalf("update not persisted: %v", reread.DistTags)
	}

	_, err = ps.UpdatePackage(ctx, func(pkg *metadata.Package) error {
		pkg.DistTags["latest"] = "9.9.9"
		return errors.New("reject")
	})
	if err == nil {
		t.Fatalf("update error should propagate")
	}
	reread, _ = ps.ReadPackage(ctx)
	if reread.DistTags["latest"] != "1.0.0" {
		t.Fatalf("rejected update must not be saved")
	}

	if err := ps.WriteTarball(ctx, "util-1.0.0.tgz", strings.NewReader("tgz")); err != nil {
		t.Fatalf("write tarball: %v", err)
	}
	if err := ps.WriteTarball(ctx, "util-1.0.0.tgz", strings.NewReader("other")); !errors.Is(err, ErrExists) {
		t.Fatalf("tarball overwrite should be ErrExists, got %v", err)
	}
	if !ps.HasTarball(ctx, "util-1.0.0.tgz") || !ps.HasTarball(ctx, "") {
		t.Fatalf("HasTarball should report existing files")
	}
	obj, err := ps.ReadTarball(ctx, "util-1.0.0.tgz")
	if err != nil {
		t.Fatalf("read tarball: %v", err)
	}
	data, _ := io.ReadAll(obj.Reader)
	obj.Reader.Close()
	if string(data) != "tgz" {
		t.Fatalf("tarball content mismatch: %s", data)
	}

	if err := ps.DeleteFile(ctx, "util-1.0.0.tgz"); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if ps.HasTarball(ctx, "util-1.0.0.tgz") {
		t.Fatalf("tarball should be gone")
	}
	if err := ps.RemovePackage(ctx); err != nil {
		t.Fatalf("remove package: %v", err)
	}
	if ps.HasPackage(ctx) {
		t.Fatalf("package dir should be gone")
	}
	if _, err := ps.ReadTarball(ctx, "../../etc/passwd"); err == nil {
		t.Fatalf("path traversal should be rejected")
	}
}

func TestSyncTarballRefusesExisting(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	ps := b.PackageStore("left-pad")

	if err := ps.SyncTarball(ctx, "left-pad-1.0.0.tgz", strings.NewReader("remote bytes")); err != nil {
		t.Fatalf("sync tarball: %v", err)
	}
	if err := ps.SyncTarball(ctx, "left-pad-1.0.0.tgz", strings.NewReader("again")); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	unlock := b.locks.Lock("left-pad/left-pad-2.0.0.tgz")
	err := ps.SyncTarball(ctx, "left-pad-2.0.0.tgz", strings.NewReader("x"))
	unlock()
	if !errors.Is(err, ErrExists) {
		t.Fatalf("in-flight fill should be reported as ErrExists, got %v", err)
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"left-pad", "@corp/util", "lodash.merge"}
	invalid := []string{"", ".tierhub-db.json", "_private", "a/b", "@corp", "@corp/a/b", "../x", " pad"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Fatalf("%q should be valid: %v", name, err)
		}
	}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Fatalf("%q should be invalid", name)
		}
	}
}
