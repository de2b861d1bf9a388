package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/petr-muller/jirasync/internal/config"
	"github.com/petr-muller/jirasync/internal/jirasync/compare"
	"github.com/petr-muller/jirasync/internal/jirasync/jira"
	"github.com/petr-muller/jirasync/internal/jirasync/storage"
	"github.com/petr-muller/jirasync/internal/jirasync/tracker"
	"github.com/petr-muller/jirasync/internal/jirasync/watch"
)

// Watcher is the part of the watch engine the service drives
type Watcher interface {
	Watch(key string) error
	Unwatch(key string) bool
	Watching(key string) bool
}

// Service orchestrates watch lists on top of the Jira client and the list store
type Service struct {
	jiraClient *jira.Client
	store      *storage.Store
	pageSize   int
	clock      clock.PassiveClock
	logger     *logrus.Entry
}

// Option customizes a Service
type Option func(*Service)

// WithPageSize sets the page size used to resolve JQL based lists
func WithPageSize(size int) Option {
	return func(s *Service) {
		s.pageSize = size
	}
}

// WithClock sets the clock used to stamp lists
func WithClock(clk clock.PassiveClock) Option {
	return func(s *Service) {
		s.clock = clk
	}
}

// WithLogger sets the service logger
func WithLogger(logger *logrus.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a new service instance
func NewService(jiraClient *jira.Client, store *storage.Store, opts ...Option) *Service {
	s := &Service{
		jiraClient: jiraClient,
		store:      store,
		pageSize:   jira.DefaultPageSize,
		clock:      clock.RealClock{},
		logger:     logrus.WithField("component", "service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EngineConfig translates poll configuration into watch engine settings
func EngineConfig(poll config.PollConfig) watch.Config {
	retries := poll.MaxRetries
	if retries == 0 {
		// the engine treats zero as unset
		retries = -1
	}
	return watch.Config{
		Interval:     poll.Interval,
		BaseDelay:    poll.BaseDelay,
		MaxDelay:     poll.MaxDelay,
		MaxRetries:   retries,
		Jitter:       poll.Jitter,
		PollTimeout:  poll.Timeout,
		TrackSummary: poll.TrackSummary,
	}
}

// SaveListOptions describes a watch list to create or replace
type SaveListOptions struct {
	Name        string
	Description string
	Keys        []string
	JQL         string
}

// SaveList validates and stores a watch list. An existing list of the same
// name keeps its creation and last start times.
func (s *Service) SaveList(ctx context.Context, opts SaveListOptions) (*storage.WatchList, error) {
	if err := storage.ValidateName(opts.Name); err != nil {
		return nil, err
	}

	keys := normalizeKeys(opts.Keys)
	jql := strings.TrimSpace(opts.JQL)
	if len(keys) == 0 && jql == "" {
		return nil, errors.New("a watch list needs issue keys or a JQL query")
	}

	if jql != "" {
		if err := s.jiraClient.ValidateQuery(ctx, tracker.Query{Filter: jql}); err != nil {
			return nil, fmt.Errorf("invalid JQL: %w", err)
		}
	}

	list := storage.WatchList{
		Name:        opts.Name,
		Description: opts.Description,
		Keys:        keys,
		JQL:         jql,
		Created:     s.clock.Now(),
	}

	existing, err := s.store.Load(opts.Name)
	switch {
	case err == nil:
		list.Created = existing.Created
		list.LastStarted = existing.LastStarted
	case errors.Is(err, storage.ErrNotFound):
	default:
		s.logger.WithError(err).WithField("list", opts.Name).Warn("Replacing unreadable watch list")
	}

	if err := s.store.Save(list); err != nil {
		return nil, fmt.Errorf("failed to save watch list: %w", err)
	}
	return &list, nil
}

// Lists returns the summaries of all stored watch lists
func (s *Service) Lists() ([]storage.WatchListItem, error) {
	return s.store.List()
}

// LoadList returns one stored watch list
func (s *Service) LoadList(name string) (*storage.WatchList, error) {
	return s.store.Load(name)
}

// DeleteList removes a stored watch list
func (s *Service) DeleteList(name string) error {
	if !s.store.Exists(name) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, name)
	}
	return s.store.Delete(name)
}

// ResolveKeys returns the explicit keys of a list together with every
// issue its JQL currently matches, sorted and without duplicates.
func (s *Service) ResolveKeys(ctx context.Context, list storage.WatchList) ([]string, error) {
	keys, _, err := s.resolve(ctx, list)
	return keys, err
}

func (s *Service) resolve(ctx context.Context, list storage.WatchList) ([]string, []tracker.Issue, error) {
	keys := sets.New(list.Keys...)
	var issues []tracker.Issue
	if list.JQL != "" {
		var err error
		if issues, err = s.queryIssues(ctx, list.JQL); err != nil {
			return nil, nil, err
		}
		for _, issue := range issues {
			keys.Insert(issue.Key)
		}
	}
	return sets.List(keys), issues, nil
}

// StartWatch loads a watch list, registers all of its issues with the
// engine and records the start time. Added holds every watched key and
// Issues the query result to seed the first RefreshMembership with.
func (s *Service) StartWatch(ctx context.Context, engine Watcher, name string) (Membership, error) {
	list, err := s.store.Load(name)
	if err != nil {
		return Membership{}, err
	}

	keys, issues, err := s.resolve(ctx, *list)
	if err != nil {
		return Membership{}, fmt.Errorf("failed to resolve watch list %s: %w", name, err)
	}
	if err := WatchAll(engine, keys); err != nil {
		return Membership{}, err
	}

	list.LastStarted = s.clock.Now()
	if err := s.store.Save(*list); err != nil {
		s.logger.WithError(err).WithField("list", name).Warn("Failed to record watch list start")
	}

	s.logger.WithFields(logrus.Fields{"list": name, "issues": len(keys)}).Info("Watch list started")
	return Membership{Added: keys, Issues: issues}, nil
}

// WatchAll registers every key with the engine
func WatchAll(engine Watcher, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := engine.Watch(key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Membership is the outcome of re-running the query of a watch list
type Membership struct {
	Added   []string
	Removed []string
	// Issues is the snapshot to pass to the next refresh
	Issues []tracker.Issue
}

// RefreshMembership re-runs the JQL of a list and brings the engine in line
// with it: issues that started matching are watched, issues that stopped
// matching are unwatched unless the list names them explicitly. previous
// is the Issues snapshot of StartWatch or of the last refresh.
func (s *Service) RefreshMembership(ctx context.Context, engine Watcher, list storage.WatchList, previous []tracker.Issue) (Membership, error) {
	if list.JQL == "" {
		return Membership{Issues: previous}, nil
	}

	current, err := s.queryIssues(ctx, list.JQL)
	if err != nil {
		return Membership{Issues: previous}, err
	}

	explicit := sets.New(list.Keys...)
	result := compare.Snapshots(current, previous)
	membership := Membership{Issues: current}

	for _, issue := range result.NewIssues {
		if engine.Watching(issue.Key) {
			continue
		}
		if err := engine.Watch(issue.Key); err != nil {
			return membership, fmt.Errorf("%s: %w", issue.Key, err)
		}
		membership.Added = append(membership.Added, issue.Key)
	}
	for _, issue := range result.RemovedIssues {
		if explicit.Has(issue.Key) {
			continue
		}
		if engine.Unwatch(issue.Key) {
			membership.Removed = append(membership.Removed, issue.Key)
		}
	}

	if !compare.HasChanges(result) {
		return membership, nil
	}
	if changed := len(result.ChangedIssues); changed > 0 {
		s.logger.WithFields(logrus.Fields{"list": list.Name, "changed": changed}).Debug("Matching issues changed")
	}
	if len(membership.Added) > 0 || len(membership.Removed) > 0 {
		s.logger.WithFields(logrus.Fields{
			"list":    list.Name,
			"added":   membership.Added,
			"removed": membership.Removed,
		}).Info("Watch list membership changed")
	}
	return membership, nil
}

func (s *Service) queryIssues(ctx context.Context, jql string) ([]tracker.Issue, error) {
	query := tracker.Query{Filter: jql, Fields: []string{"summary", "status"}}

	var issues []tracker.Issue
	for issue, err := range s.jiraClient.All(ctx, query, s.pageSize) {
		if err != nil {
			return nil, fmt.Errorf("failed to execute query: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func normalizeKeys(keys []string) []string {
	set := sets.New[string]()
	for _, key := range keys {
		if key = strings.ToUpper(strings.TrimSpace(key)); key != "" {
			set.Insert(key)
		}
	}
	if set.Len() == 0 {
		return nil
	}
	return sets.List(set)
}
