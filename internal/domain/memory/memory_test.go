package memory

import "testing"

func TestUpdateRequestValidate(t *testing.T) {
	pri := 2
	neg := -1
	disc := "summary"

	cases := []struct {
		name    string
		req     UpdateRequest
		wantErr bool
	}{
		{"patch", UpdateRequest{Address: "core://a", Old: "x", New: "y"}, false},
		{"patch deletes text", UpdateRequest{Address: "core://a", Old: "x"}, false},
		{"append", UpdateRequest{Address: "core://a", Append: "tail"}, false},
		{"meta only priority", UpdateRequest{Address: "core://a", Priority: &pri}, false},
		{"meta only disclosure", UpdateRequest{Address: "core://a", Disclosure: &disc}, false},
		{"new without old", UpdateRequest{Address: "core://a", New: "y"}, true},
		{"patch and append", UpdateRequest{Address: "core://a", Old: "x", New: "y", Append: "tail"}, true},
		{"no shape", UpdateRequest{Address: "core://a"}, true},
		{"missing address", UpdateRequest{Old: "x", New: "y"}, true},
		{"negative priority", UpdateRequest{Address: "core://a", Priority: &neg}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("Validate(%+v) = nil, want error", tc.req)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate(%+v) = %v", tc.req, err)
			}
		})
	}
}
