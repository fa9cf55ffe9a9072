package metadata

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestSaveWritesIndentedJSONAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	file := Path(dir, "left-pad")

	pkg := remoteLeftPad()
	if err := Save(context.Background(), file, pkg); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "left-pad", "package.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "\n  \"name\": \"left-pad\"") {
		t.Fatalf("元数据应为两空格缩进:\n%s", raw)
	}

	loaded, err := Load(file)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if diff := cmp.Diff(pkg, loaded, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("round trip 不一致 (-want +got):\n%s", diff)
	}
}

func TestUnknownFieldsArePreserved(t *testing.T) {
	input := `{"name":"demo","maintainers":[{"name":"a"}],"versions":{"1.0.0":{"version":"1.0.0","main":"index.js","dist":{"tarball":"https://x/demo-1.0.0.tgz","integrity":"sha512-abc"}}}}`

	pkg, err := Decode([]byte(input))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := Encode(pkg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := doc["maintainers"]; !ok {
		t.Fatalf("顶层未知字段丢失: %s", out)
	}
	v := doc["versions"].(map[string]any)["1.0.0"].(map[string]any)
	if v["main"] != "index.js" {
		t.Fatalf("版本未知字段丢失: %s", out)
	}
	if v["dist"].(map[string]any)["integrity"] != "sha512-abc" {
		t.Fatalf("dist 未知字段丢失: %s", out)
	}
	if _, ok := doc["_distfiles"]; !ok {
		t.Fatalf("缺失的集合字段应补为空对象: %s", out)
	}
}

func TestLoadOrTemplateMissingFile(t *testing.T) {
	pkg, err := LoadOrTemplate(filepath.Join(t.TempDir(), "nope", FileName), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(NewTemplate("nope"), pkg); diff != "" {
		t.Fatalf("模板不符 (-want +got):\n%s", diff)
	}
}

func TestVersionFilterDecoding(t *testing.T) {
	cases := []struct {
		input string
		want  VersionFilter
		zero  bool
	}{
		{input: `"all"`, want: AllVersions()},
		{input: `["1.0.0","1.1.0"]`, want: Only("1.0.0", "1.1.0")},
		{input: `"1.0.0"`, want: Only("1.0.0")},
		{input: `[]`, want: Only()},
		{input: `null`, zero: true},
	}
	for _, tc := range cases {
		var got VersionFilter
		if err := json.Unmarshal([]byte(tc.input), &got); err != nil {
			t.Fatalf("%s: %v", tc.input, err)
		}
		if got.IsZero() != tc.zero {
			t.Fatalf("%s: IsZero=%v", tc.input, got.IsZero())
		}
		if !tc.zero {
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("%s (-want +got):\n%s", tc.input, diff)
			}
		}
	}

	var bad VersionFilter
	if err := json.Unmarshal([]byte(`42`), &bad); err == nil {
		t.Fatalf("数字版本应报错")
	}
}
