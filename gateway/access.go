package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"code.example.org/collabdoc/db"
	"code.example.org/collabdoc/db/repository"
	"code.example.org/collabdoc/pkg/tracing"
)

// AccessChecker verifies a user may join a document. spec.md §1 treats the
// real authorization decision (ownership, collaborator ACL) as an external
// Document Service contract reachable over HTTP; this interface is that
// contract's client-side shape so the Gateway never hard-codes a transport.
type AccessChecker interface {
	CheckAccess(ctx context.Context, documentID, userID string) error
}

// DocumentExistenceChecker is a conservative stand-in for the external
// Document Service: it grants access whenever the document exists in the
// Relational Store and rejects joins to documents that don't, satisfying
// spec.md §8's "a join to a non-existent document returns
// AuthorisationError" boundary behaviour. A deployment with a real
// Document Service should supply an AccessChecker backed by that service's
// HTTP API instead.
type DocumentExistenceChecker struct {
	repo repository.DocumentRepository
}

// NewDocumentExistenceChecker builds an AccessChecker over repo.
func NewDocumentExistenceChecker(repo repository.DocumentRepository) *DocumentExistenceChecker {
	return &DocumentExistenceChecker{repo: repo}
}

func (c *DocumentExistenceChecker) CheckAccess(ctx context.Context, documentID, userID string) error {
	_, err := c.repo.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, db.ErrDocumentNotFound) {
			return ErrAuthorization
		}
		return err
	}
	return nil
}

var _ AccessChecker = (*DocumentExistenceChecker)(nil)

// httpAccessCheckTimeout bounds a single external Document Service call.
const httpAccessCheckTimeout = 5 * time.Second

// HTTPAccessChecker is an AccessChecker backed by the real external
// Document Service's HTTP API: a GET to baseURL/documents/{id}/access
// carrying the requesting user as a query parameter. 200 means granted,
// 403 or 404 means denied (ErrAuthorization), and any other status is
// returned as a plain error. Document/session correlation
// headers are attached via pkg/tracing so the Document Service's own logs
// and traces can be joined back to this join attempt.
type HTTPAccessChecker struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAccessChecker builds an AccessChecker that calls the external
// Document Service at baseURL.
func NewHTTPAccessChecker(baseURL string) *HTTPAccessChecker {
	return &HTTPAccessChecker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: httpAccessCheckTimeout},
	}
}

func (c *HTTPAccessChecker) CheckAccess(ctx context.Context, documentID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, httpAccessCheckTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/documents/%s/access?userId=%s", c.baseURL, documentID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build access check request: %w", err)
	}
	tracing.PropagateHeaders(req, documentID, userID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("document service access check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		return ErrAuthorization
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("document service access check returned status %d", resp.StatusCode)
	}
	return nil
}

var _ AccessChecker = (*HTTPAccessChecker)(nil)
