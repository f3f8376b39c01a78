package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/config"
)

// PloiClient drives a VPS/git-deploy style control plane: sites live on a
// managed server, environment is a pushed file, and a deploy runs the site's
// git-pull + build + restart script.
type PloiClient struct {
	httpClient *resty.Client
	serverID   string
	logger     *zap.Logger
}

type ploiSiteData struct {
	ID         int    `json:"id"`
	RootDomain string `json:"root_domain"`
	Status     string `json:"status"`
}

type ploiSiteResponse struct {
	Data ploiSiteData `json:"data"`
}

type ploiEnvResponse struct {
	Data string `json:"data"`
}

type ploiMessageResponse struct {
	Message string `json:"message"`
}

// NewPloiClient creates a Ploi adapter from explicit configuration.
func NewPloiClient(cfg config.PloiConfig, logger *zap.Logger) *PloiClient {
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

	return &PloiClient{
		httpClient: client,
		serverID:   cfg.ServerID,
		logger:     logger,
	}
}

// Kind identifies this adapter.
func (p *PloiClient) Kind() model.ProviderKind {
	return model.ProviderPloi
}

// RegisterSite creates a site on the managed server for the client's domain.
func (p *PloiClient) RegisterSite(ctx context.Context, name, domain string) (*Site, error) {
	var out ploiSiteResponse
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"root_domain":   domain,
			"project_type":  "none",
			"web_directory": "/public",
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/servers/%s/sites", p.serverID))

	if cerr := classify("ploi register site", resp, err); cerr != nil {
		return nil, cerr
	}

	siteID := strconv.Itoa(out.Data.ID)
	p.logger.Info("Registered site with Ploi",
		zap.String("site_id", siteID),
		zap.String("domain", domain))

	return &Site{
		ID:            siteID,
		DeploymentURL: fmt.Sprintf("https://%s", out.Data.RootDomain),
		AdminURL:      fmt.Sprintf("https://%s/admin", out.Data.RootDomain),
	}, nil
}

// GetEnvironment fetches the site's env file content.
func (p *PloiClient) GetEnvironment(ctx context.Context, siteID string) (string, error) {
	var out ploiEnvResponse
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/servers/%s/sites/%s/env", p.serverID, siteID))

	// A site without an env file yet reads as empty, not as an error
	if resp != nil && resp.StatusCode() == 404 {
		return "", nil
	}
	if cerr := classify("ploi get environment", resp, err); cerr != nil {
		return "", cerr
	}
	return out.Data, nil
}

// SetEnvironment pushes new env file content to the site.
func (p *PloiClient) SetEnvironment(ctx context.Context, siteID, raw string) error {
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]string{"content": raw}).
		Patch(fmt.Sprintf("/servers/%s/sites/%s/env", p.serverID, siteID))

	return classify("ploi set environment", resp, err)
}

// Deploy triggers the site's deploy script (git pull, build, process restart).
func (p *PloiClient) Deploy(ctx context.Context, siteID string) (*DeployResult, error) {
	var out ploiMessageResponse
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetResult(&out).
		Post(fmt.Sprintf("/servers/%s/sites/%s/deploy", p.serverID, siteID))

	if cerr := classify("ploi deploy", resp, err); cerr != nil {
		return nil, cerr
	}

	p.logger.Info("Triggered Ploi deploy", zap.String("site_id", siteID))
	return &DeployResult{Message: out.Message}, nil
}

// Reload restarts the site's application processes so new environment
// variables are picked up without running the full deploy pipeline.
func (p *PloiClient) Reload(ctx context.Context, siteID string) error {
	var out ploiMessageResponse
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetResult(&out).
		Post(fmt.Sprintf("/servers/%s/sites/%s/restart", p.serverID, siteID))

	if cerr := classify("ploi reload", resp, err); cerr != nil {
		return cerr
	}

	p.logger.Info("Restarted site processes", zap.String("site_id", siteID))
	return nil
}
