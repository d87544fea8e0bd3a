package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/pricing"
	"marketplace/backend/internal/store"
)

// TemplateResult carries a saved template together with the non-blocking
// range gaps found while validating it.
type TemplateResult struct {
	Template domain.MarkupTemplate `json:"template"`
	Warnings []pricing.RangeIssue  `json:"warnings,omitempty"`
}

type PreviewResult struct {
	Results  []pricing.MarkupResult `json:"results"`
	Warnings []pricing.RangeIssue   `json:"warnings,omitempty"`
}

func (s *Service) CreateMarkupTemplate(ctx context.Context, req domain.MarkupTemplateRequest) (TemplateResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return TemplateResult{}, err
	}
	template, warnings, err := s.templateFromRequest(req)
	if err != nil {
		return TemplateResult{}, err
	}

	created, err := s.repo.CreateMarkupTemplate(ctx, template)
	if err != nil {
		return TemplateResult{}, err
	}
	s.logAudit(ctx, "markup_template_create", "markup_template", created.ID,
		fmt.Sprintf("name=%s,ranges=%d,default=%t", created.Name, len(created.Ranges), created.IsDefault))
	return TemplateResult{Template: *created, Warnings: gapsOnly(warnings)}, nil
}

func (s *Service) UpdateMarkupTemplate(ctx context.Context, id string, req domain.MarkupTemplateRequest) (TemplateResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return TemplateResult{}, err
	}
	template, warnings, err := s.templateFromRequest(req)
	if err != nil {
		return TemplateResult{}, err
	}
	template.ID = strings.TrimSpace(id)

	updated, err := s.repo.UpdateMarkupTemplate(ctx, template)
	if err != nil {
		return TemplateResult{}, err
	}
	s.logAudit(ctx, "markup_template_update", "markup_template", updated.ID,
		fmt.Sprintf("name=%s,ranges=%d,active=%t,default=%t", updated.Name, len(updated.Ranges), updated.IsActive, updated.IsDefault))
	return TemplateResult{Template: *updated, Warnings: gapsOnly(warnings)}, nil
}

func (s *Service) templateFromRequest(req domain.MarkupTemplateRequest) (domain.MarkupTemplate, []pricing.RangeIssue, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.MarkupTemplate{}, nil, domain.ErrInvalidInput.Withf("template name is required")
	}
	if req.IsDefault && !req.IsActive {
		return domain.MarkupTemplate{}, nil, domain.ErrInvalidInput.Withf("the default template must be active")
	}
	issues, err := pricing.ValidateRanges(req.Ranges)
	if err != nil {
		return domain.MarkupTemplate{}, issues, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}
	ranges := make([]domain.MarkupRange, len(req.Ranges))
	copy(ranges, req.Ranges)
	return domain.MarkupTemplate{
		Name:      name,
		Currency:  currency,
		Ranges:    ranges,
		IsActive:  req.IsActive,
		IsDefault: req.IsDefault,
	}, issues, nil
}

func (s *Service) ListMarkupTemplates(ctx context.Context) ([]domain.MarkupTemplate, error) {
	return s.repo.ListMarkupTemplates(ctx)
}

func (s *Service) GetMarkupTemplate(ctx context.Context, id string) (domain.MarkupTemplate, error) {
	tpl, err := s.repo.GetMarkupTemplate(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.MarkupTemplate{}, err
	}
	return *tpl, nil
}

// PreviewMarkup runs unsaved ranges through the same resolver used at
// checkout.
func (s *Service) PreviewMarkup(_ context.Context, req domain.MarkupPreviewRequest) (PreviewResult, error) {
	issues, err := pricing.ValidateRanges(req.Ranges)
	if err != nil {
		return PreviewResult{}, err
	}
	if len(req.Prices) == 0 {
		return PreviewResult{}, domain.ErrInvalidInput.Withf("at least one price is required")
	}
	for _, price := range req.Prices {
		if price.IsNegative() {
			return PreviewResult{}, domain.ErrInvalidInput.Withf("price %s must not be negative", price)
		}
	}

	template := &domain.MarkupTemplate{Ranges: req.Ranges, IsActive: true}
	return PreviewResult{
		Results:  pricing.Preview(template, req.Prices),
		Warnings: gapsOnly(issues),
	}, nil
}

func (s *Service) ListSellers(ctx context.Context) ([]domain.Seller, error) {
	return s.repo.ListSellers(ctx)
}

// AssignSellerTemplate sets the seller's markup template. An empty template
// id falls the seller back to the platform default.
func (s *Service) AssignSellerTemplate(ctx context.Context, sellerID string, req domain.SellerTemplateRequest) (domain.Seller, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Seller{}, err
	}
	templateID := strings.TrimSpace(req.MarkupTemplateID)
	if templateID != "" {
		tpl, err := s.repo.GetMarkupTemplate(ctx, templateID)
		if err != nil {
			return domain.Seller{}, err
		}
		if !tpl.IsActive {
			return domain.Seller{}, domain.ErrInvalidInput.Withf("markup template %s is inactive", templateID)
		}
	}

	seller, err := s.repo.AssignSellerTemplate(ctx, strings.TrimSpace(sellerID), templateID)
	if err != nil {
		return domain.Seller{}, err
	}
	s.logAudit(ctx, "seller_template_assign", "seller", seller.ID, "markup_template_id="+templateID)
	return *seller, nil
}

// ResolveSellerTemplate returns the seller's assigned template when it is
// active, else the platform default. A nil template means no markup.
func (s *Service) ResolveSellerTemplate(ctx context.Context, sellerID string) (*domain.MarkupTemplate, error) {
	seller, err := s.repo.GetSeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if seller.MarkupTemplateID != "" {
		tpl, err := s.repo.GetMarkupTemplate(ctx, seller.MarkupTemplateID)
		switch {
		case err == nil && tpl.IsActive:
			return tpl, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	tpl, err := s.repo.GetDefaultMarkupTemplate(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

func (s *Service) sellerTemplates(ctx context.Context, sellerIDs []string) (map[string]*domain.MarkupTemplate, error) {
	templates := make(map[string]*domain.MarkupTemplate, len(sellerIDs))
	for _, sellerID := range sellerIDs {
		if _, done := templates[sellerID]; done {
			continue
		}
		tpl, err := s.ResolveSellerTemplate(ctx, sellerID)
		if err != nil {
			return nil, err
		}
		templates[sellerID] = tpl
	}
	return templates, nil
}

func gapsOnly(issues []pricing.RangeIssue) []pricing.RangeIssue {
	gaps := make([]pricing.RangeIssue, 0, len(issues))
	for _, issue := range issues {
		if issue.Kind == pricing.IssueGap {
			gaps = append(gaps, issue)
		}
	}
	if len(gaps) == 0 {
		return nil
	}
	return gaps
}
