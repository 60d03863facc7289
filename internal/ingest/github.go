// Package ingest implements the Event Ingestor (C4): parsing provider
// webhooks and runner callbacks into state-machine transitions. Signature
// verification happens one layer up, in internal/api/handlers; these
// functions take already-trusted bodies.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"gradeflow/internal/store"
)

type repoTuple struct {
	ownerLogin string
	repoName   string
}

type installationEvent struct {
	Action       string `json:"action"`
	Installation struct {
		Account struct {
			Login string `json:"login"`
		} `json:"account"`
	} `json:"installation"`
	Repositories []struct {
		Name string `json:"name"`
	} `json:"repositories"`
}

type installationRepositoriesEvent struct {
	Action       string `json:"action"`
	Installation struct {
		Account struct {
			Login string `json:"login"`
		} `json:"account"`
	} `json:"installation"`
	RepositoriesAdded []struct {
		Name string `json:"name"`
	} `json:"repositories_added"`
	RepositoriesRemoved []struct {
		Name string `json:"name"`
	} `json:"repositories_removed"`
}

type pushEvent struct {
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

type repositoryEvent struct {
	Action     string `json:"action"`
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// parseProviderEvent extracts (owner_login, repo_name) tuples from a
// provider webhook body, per spec.md §4.4 step 2. workflow_job is
// recognized but intentionally yields no tuples (§9 ambiguity note).
func parseProviderEvent(eventType string, rawBody []byte) ([]repoTuple, error) {
	switch eventType {
	case "installation":
		var ev installationEvent
		if err := json.Unmarshal(rawBody, &ev); err != nil {
			return nil, fmt.Errorf("parse installation event: %w", err)
		}
		switch ev.Action {
		case "created", "added", "removed":
			tuples := make([]repoTuple, 0, len(ev.Repositories))
			for _, r := range ev.Repositories {
				tuples = append(tuples, repoTuple{ownerLogin: ev.Installation.Account.Login, repoName: r.Name})
			}
			return tuples, nil
		default:
			return nil, fmt.Errorf("unrecognized installation action %q", ev.Action)
		}

	case "installation_repositories":
		var ev installationRepositoriesEvent
		if err := json.Unmarshal(rawBody, &ev); err != nil {
			return nil, fmt.Errorf("parse installation_repositories event: %w", err)
		}
		switch ev.Action {
		case "added":
			tuples := make([]repoTuple, 0, len(ev.RepositoriesAdded))
			for _, r := range ev.RepositoriesAdded {
				tuples = append(tuples, repoTuple{ownerLogin: ev.Installation.Account.Login, repoName: r.Name})
			}
			return tuples, nil
		case "removed":
			tuples := make([]repoTuple, 0, len(ev.RepositoriesRemoved))
			for _, r := range ev.RepositoriesRemoved {
				tuples = append(tuples, repoTuple{ownerLogin: ev.Installation.Account.Login, repoName: r.Name})
			}
			return tuples, nil
		default:
			return nil, fmt.Errorf("unrecognized installation_repositories action %q", ev.Action)
		}

	case "push":
		var ev pushEvent
		if err := json.Unmarshal(rawBody, &ev); err != nil {
			return nil, fmt.Errorf("parse push event: %w", err)
		}
		return []repoTuple{{ownerLogin: ev.Repository.Owner.Login, repoName: ev.Repository.Name}}, nil

	case "repository":
		var ev repositoryEvent
		if err := json.Unmarshal(rawBody, &ev); err != nil {
			return nil, fmt.Errorf("parse repository event: %w", err)
		}
		if ev.Action != "created" {
			return nil, fmt.Errorf("unrecognized repository action %q", ev.Action)
		}
		return []repoTuple{{ownerLogin: ev.Repository.Owner.Login, repoName: ev.Repository.Name}}, nil

	case "workflow_job":
		// No correlation identifier back to a known task; silently dropped
		// rather than guessed at (spec.md §9).
		return nil, nil

	default:
		return nil, fmt.Errorf("unrecognized event type %q", eventType)
	}
}

// HandleProviderWebhook parses rawBody per eventType and links every
// extracted (owner, repo) tuple to its matching UserAssignment. Parse
// failures are dead-lettered, never surfaced to the HTTP caller.
func HandleProviderWebhook(ctx context.Context, s *store.Store, eventType string, rawBody []byte) {
	tuples, err := parseProviderEvent(eventType, rawBody)
	if err != nil {
		if recErr := s.RecordUnparseableWebhook(ctx, "github", eventType, rawBody, err); recErr != nil {
			log.Printf("failed to record unparseable webhook: %v", recErr)
		}
		return
	}

	byLogin := make(map[string][]string)
	for _, t := range tuples {
		byLogin[t.ownerLogin] = append(byLogin[t.ownerLogin], t.repoName)
	}
	for login, repos := range byLogin {
		if err := s.LinkRepos(ctx, login, repos); err != nil {
			log.Printf("failed to link repos for %s: %v", login, err)
		}
	}
}
