package taskcoord

import "testing"

type minimalResource struct {
	DefaultResource
	id string
}

func (r minimalResource) DirID() string { return r.id }

func TestDefaultResourceName(t *testing.T) {
	r := minimalResource{id: "gpu-0"}
	if got, want := r.Name(), "Resource #<unknown>"; got != want {
		t.Fatalf("DefaultResource.Name() = %q, want %q", got, want)
	}
}

func TestResourceNameHelper(t *testing.T) {
	if got, want := ResourceName("gpu-0"), "Resource #gpu-0"; got != want {
		t.Fatalf("ResourceName() = %q, want %q", got, want)
	}
}
