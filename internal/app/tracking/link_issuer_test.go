package tracking

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sifan077/PowerTrack/internal/app/apperr"
)

func TestLinkIssuer_Issue(t *testing.T) {
	env := newTestEnv(t)

	link, redirect, err := env.issuer.Issue(context.Background(), IssueLinkInput{
		AffiliateID:      "aff-a",
		CampaignID:       "camp-30",
		CustomParameters: map[string]string{"sub_id": "42"},
	})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if len(link.TrackingID) != 32 {
		t.Fatalf("expected 128-bit hex tracking id, got %q", link.TrackingID)
	}
	if redirect != "https://trk.example/c/"+link.TrackingID {
		t.Fatalf("unexpected redirect url %s", redirect)
	}
	if link.DestinationURL != "https://shop.example/summer?ref=promo" {
		t.Fatalf("expected campaign landing page, got %s", link.DestinationURL)
	}
	if !link.ExpiresAt.Equal(baseTime.Add(days(90))) {
		t.Fatalf("expected 90 day retention, got %s", link.ExpiresAt)
	}

	stored, err := env.links.GetLink(context.Background(), link.TrackingID)
	if err != nil {
		t.Fatalf("stored link not found: %v", err)
	}
	if stored.CustomParameters["sub_id"] != "42" {
		t.Fatalf("custom parameters were not persisted")
	}
}

func TestLinkIssuer_IssueUniqueIDs(t *testing.T) {
	env := newTestEnv(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		link, _, err := env.issuer.Issue(context.Background(), IssueLinkInput{AffiliateID: "aff-a", CampaignID: "camp-30"})
		if err != nil {
			t.Fatalf("Issue returned error: %v", err)
		}
		if seen[link.TrackingID] {
			t.Fatalf("tracking id %s issued twice", link.TrackingID)
		}
		seen[link.TrackingID] = true
	}
}

func TestLinkIssuer_LandingPageOverride(t *testing.T) {
	env := newTestEnv(t)

	link, _, err := env.issuer.Issue(context.Background(), IssueLinkInput{
		AffiliateID: "aff-a",
		CampaignID:  "camp-30",
		LandingPage: "https://shop.example/deal",
	})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if link.DestinationURL != "https://shop.example/deal" {
		t.Fatalf("expected override landing page, got %s", link.DestinationURL)
	}
}

func TestLinkIssuer_NotFound(t *testing.T) {
	env := newTestEnv(t)

	cases := []IssueLinkInput{
		{AffiliateID: "ghost", CampaignID: "camp-30"},
		{AffiliateID: "aff-a", CampaignID: "ghost"},
		{AffiliateID: "suspended", CampaignID: "camp-30"},
		{AffiliateID: "aff-a", CampaignID: "paused"},
	}
	for _, input := range cases {
		_, _, err := env.issuer.Issue(context.Background(), input)
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("Issue(%+v): expected ErrNotFound, got %v", input, err)
		}
	}
}

func TestLinkIssuer_MissingIDs(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.issuer.Issue(context.Background(), IssueLinkInput{AffiliateID: "aff-a"})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !strings.Contains(err.Error(), "campaignId") {
		t.Fatalf("expected error to name the missing field, got %v", err)
	}
}
