package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds the cron jobs keyed by name, preserving registration order.
type Registry struct {
	order  []string
	byName map[string]Job
}

// NewRegistry builds a registry from jobs. Nil jobs are skipped; duplicate or
// blank names are rejected.
func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{byName: map[string]Job{}}
	for _, job := range jobs {
		if job == nil {
			continue
		}
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a job under its name.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return fmt.Errorf("job name required")
	}
	if r.byName == nil {
		r.byName = map[string]Job{}
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	r.byName[name] = job
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the job registered under name.
func (r *Registry) Lookup(name string) (Job, bool) {
	if r == nil {
		return nil, false
	}
	job, ok := r.byName[strings.TrimSpace(name)]
	return job, ok
}

// Without returns a copy of the registry minus the named jobs. Unknown names
// are ignored.
func (r *Registry) Without(names ...string) *Registry {
	skip := make(map[string]struct{}, len(names))
	for _, name := range names {
		skip[strings.TrimSpace(name)] = struct{}{}
	}
	out := &Registry{byName: map[string]Job{}}
	for _, job := range r.Jobs() {
		if _, drop := skip[job.Name()]; drop {
			continue
		}
		_ = out.Register(job)
	}
	return out
}

// Jobs returns the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	if r == nil {
		return nil
	}
	jobs := make([]Job, 0, len(r.order))
	for _, name := range r.order {
		jobs = append(jobs, r.byName[name])
	}
	return jobs
}
