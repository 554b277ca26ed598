// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package utils

import (
	"context"
	"os"
	"path"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteReadLines(t *testing.T) {
	fileDir := t.TempDir()

	want := []string{"12.5", "7", "1000.0001"}
	resultFile := path.Join(fileDir, "nested", "result.txt")
	ctx := context.Background()
	if err := WriteLines(ctx, want, resultFile); err != nil {
		t.Fatal(err)
	}

	got, err := ReadLines(ctx, resultFile)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("strings mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteReadJSON(t *testing.T) {
	type keyInfo struct {
		Preset string `json:"preset"`
		Slots  int    `json:"slots"`
	}
	want := &keyInfo{Preset: "PN13", Slots: 4096}
	filename := path.Join(t.TempDir(), "info.json")
	ctx := context.Background()
	if err := WriteJSON(ctx, want, filename); err != nil {
		t.Fatal(err)
	}
	got := &keyInfo{}
	if err := ReadJSON(ctx, filename, got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("json mismatch (-want +got):\n%s", diff)
	}
}

func TestReadBytesMissingFile(t *testing.T) {
	_, err := ReadBytes(context.Background(), path.Join(t.TempDir(), "missing"))
	if !os.IsNotExist(err) {
		t.Errorf("expect not-exist error, got %v", err)
	}
}

func TestCborMarshalUnmarshal(t *testing.T) {
	type testStruct struct {
		FieldStr   string `json:"field_str"`
		FieldInt   int64  `json:"field_int"`
		FieldBytes []byte `json:"field_bytes"`
	}

	want := &testStruct{
		FieldStr:   "test_string",
		FieldInt:   12345,
		FieldBytes: []byte("test_bytes"),
	}

	b, err := MarshalCBOR(want)
	if err != nil {
		t.Fatal(err)
	}

	got := &testStruct{}
	if err := UnmarshalCBOR(b, got); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unmarshaled message mismatch (-want +got):\n%s", diff)
	}
}

func TestJoinPath(t *testing.T) {
	filename := "bar"
	for _, tc := range []struct {
		dir, want string
	}{
		{"gs://foo", "gs://foo/bar"},
		{"gs://foo/", "gs://foo/bar"},
		{"/foo", "/foo/bar"},
		{"/foo/", "/foo/bar"},
	} {
		if got := JoinPath(tc.dir, filename); got != tc.want {
			t.Errorf("expect joint path %s, got %s", tc.want, got)
		}
	}
}

func TestParseGCSPath(t *testing.T) {
	bucket, object, err := ParseGCSPath("gs://datasets/runs/big_data_1M.csv")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "datasets" || object != "runs/big_data_1M.csv" {
		t.Errorf("want bucket %q and object %q, got %q and %q", "datasets", "runs/big_data_1M.csv", bucket, object)
	}

	for _, input := range []string{"/local/file", "gs:///no-bucket"} {
		if _, _, err := ParseGCSPath(input); err == nil {
			t.Errorf("expect error for %q", input)
		}
	}
}

func TestParseIntList(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "8,128, 4096", want: []int{8, 128, 4096}},
		{in: "", want: nil},
		{in: "4,,16,", want: []int{4, 16}},
		{in: "4,x", wantErr: true},
	} {
		got, err := ParseIntList(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseIntList(%q): got error %v, want error %t", tc.in, err, tc.wantErr)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseIntList(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}
