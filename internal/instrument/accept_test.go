package instrument

import "testing"

func TestParseAcceptStatus(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		accept  []int
		reject  []int
		wantErr bool
	}{
		{name: "default", spec: "", accept: []int{200, 204, 301, 399}, reject: []int{199, 400, 500}},
		{name: "single code", spec: "204", accept: []int{204}, reject: []int{200}},
		{name: "range and code", spec: "200-299, 404", accept: []int{200, 250, 299, 404}, reject: []int{300, 403, 500}},
		{name: "class", spec: "2xx,5XX", accept: []int{200, 299, 500, 599}, reject: []int{300, 404}},
		{name: "reversed range", spec: "299-200", wantErr: true},
		{name: "garbage", spec: "ok", wantErr: true},
		{name: "out of range", spec: "700", wantErr: true},
		{name: "bad class", spec: "9xx", wantErr: true},
		{name: "only separators", spec: ",,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := ParseAcceptStatus(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAcceptStatus(%q) expected error", tt.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAcceptStatus(%q) error = %v", tt.spec, err)
			}
			for _, code := range tt.accept {
				if !fn(code) {
					t.Errorf("expected %d to be accepted", code)
				}
			}
			for _, code := range tt.reject {
				if fn(code) {
					t.Errorf("expected %d to be rejected", code)
				}
			}
		})
	}
}
