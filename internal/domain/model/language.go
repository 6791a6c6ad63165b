package model

import "fmt"

// LanguageCategory selects the execution path for a language.
type LanguageCategory string

const (
	// CategoryWeb languages run inside the browser sandbox frame.
	CategoryWeb LanguageCategory = "web"
	// CategoryRemote languages are dispatched to the remote execution
	// service.
	CategoryRemote LanguageCategory = "remote-execution"
	// CategoryLocal languages run in-process against a WASM or
	// embedded runtime (python, sql).
	CategoryLocal LanguageCategory = "none"
)

// RemoteTarget identifies a language on the remote execution service.
type RemoteTarget struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// Language is an immutable descriptor for a supported language. The
// remote target is only meaningful for CategoryRemote and is enforced
// at construction; lookups go through a Registry.
type Language struct {
	Key      string           `json:"key"`
	Name     string           `json:"name"`
	Category LanguageCategory `json:"category"`

	remote *RemoteTarget
}

func NewWebLanguage(key, name string) Language {
	return Language{Key: key, Name: name, Category: CategoryWeb}
}

func NewLocalLanguage(key, name string) Language {
	return Language{Key: key, Name: name, Category: CategoryLocal}
}

func NewRemoteLanguage(key, name, remoteID, version string) (Language, error) {
	if remoteID == "" || version == "" {
		return Language{}, fmt.Errorf("remote language %q requires a remote id and version", key)
	}
	return Language{
		Key:      key,
		Name:     name,
		Category: CategoryRemote,
		remote:   &RemoteTarget{ID: remoteID, Version: version},
	}, nil
}

// Remote returns the remote execution target. The second return is
// false for non-remote categories.
func (l Language) Remote() (RemoteTarget, bool) {
	if l.remote == nil {
		return RemoteTarget{}, false
	}
	return *l.remote, true
}

// Registry is the closed, startup-defined set of supported languages.
type Registry struct {
	byKey map[string]Language
	order []string
}

func NewRegistry(langs ...Language) *Registry {
	r := &Registry{byKey: make(map[string]Language, len(langs))}
	for _, l := range langs {
		if _, dup := r.byKey[l.Key]; dup {
			continue
		}
		r.byKey[l.Key] = l
		r.order = append(r.order, l.Key)
	}
	return r
}

func (r *Registry) Lookup(key string) (Language, bool) {
	l, ok := r.byKey[key]
	return l, ok
}

// List returns languages in registration order.
func (r *Registry) List() []Language {
	out := make([]Language, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKey[k])
	}
	return out
}

// DefaultRegistry returns the platform's supported languages.
func DefaultRegistry() *Registry {
	langs := []Language{
		NewWebLanguage("html", "HTML"),
		NewWebLanguage("css", "CSS"),
		NewWebLanguage("javascript", "JavaScript"),
		NewLocalLanguage("python", "Python"),
		NewLocalLanguage("sql", "SQL"),
	}
	remotes := []struct {
		key, name, id, version string
	}{
		{"go", "Go", "go", "1.16.2"},
		{"java", "Java", "java", "15.0.2"},
		{"c", "C", "c", "10.2.0"},
		{"cpp", "C++", "c++", "10.2.0"},
		{"rust", "Rust", "rust", "1.68.2"},
		{"ruby", "Ruby", "ruby", "3.0.1"},
	}
	for _, r := range remotes {
		l, err := NewRemoteLanguage(r.key, r.name, r.id, r.version)
		if err != nil {
			continue
		}
		langs = append(langs, l)
	}
	return NewRegistry(langs...)
}
