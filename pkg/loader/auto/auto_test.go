package auto

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/triage/pkg/loader"
)

type memLoader map[string]string

func (m memLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return []byte(m[file.Path]), nil
}

func TestLoader_Dispatch(t *testing.T) {
	l := NewLoader(memLoader{
		"kb/fire.md":      "# Fire\nLeave the building.",
		"kb/contacts.csv": "service,phone\nSAMU,192\n",
	}, Params{})

	doc, err := l.Source("kb/fire.md").Document(context.Background())
	if err != nil || doc.Text != "# Fire\nLeave the building." || doc.SourceID != "fire" {
		t.Fatalf("text source = %+v, %v", doc, err)
	}

	doc, err = l.Source("kb/contacts.csv").Document(context.Background())
	if err != nil || doc.Text != "service: SAMU; phone: 192" {
		t.Fatalf("csv source = %+v, %v", doc, err)
	}

	if _, err := l.GetFileText(context.Background(), loader.SourceFile{Path: "x", Type: "audio"}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}
