package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/config"
)

// VercelClient drives a serverless-deploy style control plane: environment is
// managed per project through the API and a deploy triggers a build.
type VercelClient struct {
	httpClient *resty.Client
	teamID     string
	logger     *zap.Logger
}

type vercelProject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type vercelEnvVar struct {
	Key    string   `json:"key"`
	Value  string   `json:"value"`
	Type   string   `json:"type,omitempty"`
	Target []string `json:"target,omitempty"`
}

type vercelEnvListResponse struct {
	Envs []vercelEnvVar `json:"envs"`
}

type vercelDeployment struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// NewVercelClient creates a Vercel adapter from explicit configuration.
func NewVercelClient(cfg config.VercelConfig, logger *zap.Logger) *VercelClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIToken).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(retryOnTransient).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.TeamID != "" {
		client.SetQueryParam("teamId", cfg.TeamID)
	}

	return &VercelClient{
		httpClient: client,
		teamID:     cfg.TeamID,
		logger:     logger,
	}
}

// Kind identifies this adapter.
func (v *VercelClient) Kind() model.ProviderKind {
	return model.ProviderVercel
}

// RegisterSite creates a project for the client.
func (v *VercelClient) RegisterSite(ctx context.Context, name, domain string) (*Site, error) {
	projectName := strings.ToLower(strings.ReplaceAll(domain, ".", "-"))

	var out vercelProject
	resp, err := v.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": projectName}).
		SetResult(&out).
		Post("/v10/projects")

	if cerr := classify("vercel register site", resp, err); cerr != nil {
		return nil, cerr
	}

	v.logger.Info("Registered project with Vercel",
		zap.String("project_id", out.ID),
		zap.String("domain", domain))

	adminURL := fmt.Sprintf("https://vercel.com/%s", out.Name)
	if v.teamID != "" {
		adminURL = fmt.Sprintf("https://vercel.com/%s/%s", v.teamID, out.Name)
	}

	return &Site{
		ID:            out.ID,
		DeploymentURL: fmt.Sprintf("https://%s.vercel.app", out.Name),
		AdminURL:      adminURL,
	}, nil
}

// GetEnvironment fetches the project's env vars and renders them as raw text.
func (v *VercelClient) GetEnvironment(ctx context.Context, siteID string) (string, error) {
	var out vercelEnvListResponse
	resp, err := v.httpClient.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/v9/projects/%s/env", siteID))

	if cerr := classify("vercel get environment", resp, err); cerr != nil {
		return "", cerr
	}

	if len(out.Envs) == 0 {
		return "", nil
	}

	lines := make([]string, 0, len(out.Envs))
	for _, e := range out.Envs {
		lines = append(lines, fmt.Sprintf("%s=%s", e.Key, e.Value))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n") + "\n", nil
}

// SetEnvironment upserts the project's env vars from raw text.
func (v *VercelClient) SetEnvironment(ctx context.Context, siteID, raw string) error {
	pairs, err := godotenv.Unmarshal(raw)
	if err != nil {
		return fmt.Errorf("%w: vercel set environment: parse env content: %v", ErrValidation, err)
	}

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	body := make([]vercelEnvVar, 0, len(keys))
	for _, k := range keys {
		body = append(body, vercelEnvVar{
			Key:    k,
			Value:  pairs[k],
			Type:   "encrypted",
			Target: []string{"production", "preview"},
		})
	}

	resp, err := v.httpClient.R().
		SetContext(ctx).
		SetQueryParam("upsert", "true").
		SetBody(body).
		Post(fmt.Sprintf("/v10/projects/%s/env", siteID))

	return classify("vercel set environment", resp, err)
}

// Deploy triggers a production build for the project.
func (v *VercelClient) Deploy(ctx context.Context, siteID string) (*DeployResult, error) {
	var out vercelDeployment
	resp, err := v.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"project": siteID,
			"name":    siteID,
			"target":  "production",
		}).
		SetResult(&out).
		Post("/v13/deployments")

	if cerr := classify("vercel deploy", resp, err); cerr != nil {
		return nil, cerr
	}

	v.logger.Info("Triggered Vercel deployment",
		zap.String("project_id", siteID),
		zap.String("deployment_id", out.ID))

	return &DeployResult{DeploymentID: out.ID, Message: out.URL}, nil
}

// Reload is a no-op for serverless projects: upserted env vars are picked up
// by the next invocation without a rebuild.
func (v *VercelClient) Reload(ctx context.Context, siteID string) error {
	v.logger.Debug("Reload is a no-op for serverless projects",
		zap.String("project_id", siteID))
	return nil
}
