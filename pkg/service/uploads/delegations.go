package uploads

import (
	"context"
	"errors"
	"fmt"

	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/storacha/upload-service/internal/telemetry"
	"github.com/storacha/upload-service/pkg/authz"
	"github.com/storacha/upload-service/pkg/store"
	"github.com/storacha/upload-service/pkg/store/delegationstore"
)

// RecordDelegations archives and indexes delegations that arrived with the
// invocation identified by cause. Delegations must already be verified.
func (s *UploadService) RecordDelegations(ctx context.Context, cause ucan.Link, dlgs ...delegation.Delegation) error {
	for _, dlg := range dlgs {
		if err := s.archive.Put(ctx, dlg); err != nil {
			return fmt.Errorf("archiving delegation %s: %w", dlg.Link(), err)
		}
		if err := s.delegations.Put(ctx, delegationstore.FromDelegation(cause, dlg)); err != nil {
			if errors.Is(err, store.ErrCorruption) {
				log.Errorw("delegation index corrupt", "delegation", dlg.Link().String(), "error", err)
				telemetry.ReportError(err)
			}
			return fmt.Errorf("indexing delegation %s: %w", dlg.Link(), err)
		}
	}
	return nil
}

// Revoke revokes dlg in the context of scope.
func (s *UploadService) Revoke(ctx context.Context, dlg ucan.Link, scope ucan.Link, cause ucan.Link) error {
	if err := s.revocations.Revoke(ctx, dlg, scope, cause); err != nil {
		return fmt.Errorf("revoking %s: %w", dlg, err)
	}
	return nil
}

// CheckChain reports whether every delegation in chain is unexpired and not
// revoked. See [authz.CheckChain].
func (s *UploadService) CheckChain(ctx context.Context, chain []delegationstore.Delegation) error {
	return authz.CheckChain(ctx, s.revocations, chain, s.clock())
}
