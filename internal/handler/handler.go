package handler

import (
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/billing"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/envsync"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/provision"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/tenant"
)

var (
	orchestrator *provision.Orchestrator
	synchronizer *envsync.Synchronizer
	reconciler   *billing.Reconciler
	resolver     *tenant.Resolver
)

// Initialize wires the handlers to their collaborators. Called once from main
// after configuration, database and provider adapters are ready.
func Initialize(o *provision.Orchestrator, s *envsync.Synchronizer, r *billing.Reconciler, res *tenant.Resolver) {
	orchestrator = o
	synchronizer = s
	reconciler = r
	resolver = res
}
