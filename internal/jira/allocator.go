package jira

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/gateway"
	"github.com/clintrovert/wfsync/pkg/types"
)

const (
	// MaxKeyLength is the longest project key Jira accepts
	MaxKeyLength = 10
	// MaxProjectNameLength is the longest project name Jira accepts
	MaxProjectNameLength = 80

	keySuffixLength = 2
)

// Allocator generates unique Jira project keys and names. Every probe hits
// the registry, so a key reserved by a previous call is always visible.
type Allocator struct {
	registry      gateway.ProjectRegistry
	programPrefix map[string]string
	logger        *zap.Logger
}

// NewAllocator creates a new key and name allocator
func NewAllocator(registry gateway.ProjectRegistry, programPrefix map[string]string, logger *zap.Logger) *Allocator {
	return &Allocator{
		registry:      registry,
		programPrefix: programPrefix,
		logger:        logger,
	}
}

// ProjectKey returns a free project key for the project
func (a *Allocator) ProjectKey(ctx context.Context, project *types.Project) (string, error) {
	var key string
	if project.JiraProjectKey != "" {
		key = StandardizeKey(project.JiraProjectKey)
	} else {
		var err error
		key, err = a.initialKey(project)
		if err != nil {
			return "", err
		}
	}

	if key == "" {
		return "", gateway.Errorf(gateway.KindConfig, "jira.allocate_key",
			"no letters available to build a key for project %q", project.Name)
	}

	a.logger.Debug("trying project key", zap.String("key", key))
	exists, err := a.registry.ProjectKeyExists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to check project key %s: %w", key, err)
	}
	if !exists {
		return key, nil
	}

	base := key
	if len(base) > MaxKeyLength-keySuffixLength {
		base = base[:MaxKeyLength-keySuffixLength]
	}

	for first := 'A'; first <= 'Z'; first++ {
		for second := 'A'; second <= 'Z'; second++ {
			candidate := base + string(first) + string(second)
			a.logger.Debug("trying project key", zap.String("key", candidate))

			exists, err := a.registry.ProjectKeyExists(ctx, candidate)
			if err != nil {
				return "", fmt.Errorf("failed to check project key %s: %w", candidate, err)
			}
			if !exists {
				return candidate, nil
			}
		}
	}

	return "", gateway.Errorf(gateway.KindExhausted, "jira.allocate_key",
		"cannot create unique project key for project %q", project.Name)
}

// ProjectName returns a free project name, suffixing "(n)" on collision
func (a *Allocator) ProjectName(ctx context.Context, project *types.Project) (string, error) {
	base := truncate(project.Name, MaxProjectNameLength)
	if base == "" {
		return "", gateway.Errorf(gateway.KindConfig, "jira.allocate_name", "project %s has no name", project.WorkfrontID)
	}

	name := base
	for seq := 1; ; seq++ {
		a.logger.Debug("trying project name", zap.String("name", name))
		exists, err := a.registry.ProjectNameExists(ctx, name)
		if err != nil {
			return "", fmt.Errorf("failed to check project name %q: %w", name, err)
		}
		if !exists {
			return name, nil
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}

		suffix := fmt.Sprintf("(%d)", seq)
		name = truncate(base, MaxProjectNameLength-len(suffix)) + suffix
	}
}

// initialKey builds a key from the program prefix and the initials of the
// project name.
func (a *Allocator) initialKey(project *types.Project) (string, error) {
	program := strings.TrimSpace(project.Program)
	if program == "" {
		return "", gateway.Errorf(gateway.KindConfig, "jira.allocate_key",
			"project %q is not assigned to a program", project.Name)
	}

	prefix, ok := a.programPrefix[program]
	if !ok || prefix == "" {
		r := []rune(program)
		prefix = string(r[0])
	}

	var b strings.Builder
	b.WriteString(prefix)
	for _, word := range strings.Fields(project.Name) {
		r := []rune(word)
		if unicode.IsLetter(r[0]) {
			b.WriteRune(r[0])
		}
	}

	return StandardizeKey(b.String()), nil
}

// StandardizeKey keeps ASCII letters only, upper-cased and capped at
// MaxKeyLength.
func StandardizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return truncate(b.String(), MaxKeyLength)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
