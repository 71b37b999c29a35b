package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeplay/internal/adapter/gateway/runapi"
	"github.com/YoshitsuguKoike/deeplay/internal/application/port/input"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/infrastructure/di"
)

// commandCtx bundles what a command body needs
type commandCtx struct {
	ctx       context.Context
	tenant    model.TenantID
	container *di.Container
	playbooks input.PlaybookUseCase
	scenarios input.ScenarioUseCase
	runs      input.RunUseCase
	approvals input.ApprovalUseCase
}

func (s *session) commandCtx(cmd *cobra.Command) (commandCtx, error) {
	c, err := s.Container()
	if err != nil {
		return commandCtx{}, err
	}
	tenant, err := s.tenant()
	if err != nil {
		return commandCtx{}, s.present("", nil, err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := commandCtx{
		ctx:       ctx,
		tenant:    tenant,
		container: c,
		playbooks: c.GetPlaybookUseCase(),
		scenarios: c.GetScenarioUseCase(),
		runs:      c.GetRunUseCase(),
		approvals: c.GetApprovalUseCase(),
	}

	// With a server configured, runs are steered by the process that owns their timers
	if server := s.serverURL(); server != "" {
		client, err := runapi.New(server, s.logger)
		if err != nil {
			return commandCtx{}, s.present("", nil, model.NewValidationError("%v", err))
		}
		out.runs = client
		out.approvals = client
	}
	return out, nil
}
