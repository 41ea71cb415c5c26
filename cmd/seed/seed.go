package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kpmidhlaj/watchmate/internal/service"
)

type platformDef struct {
	name    string
	about   string
	website string
	titles  []titleDef
}

type titleDef struct {
	title       string
	description string
	// ratings[i] is the rating of users[i]; 0 means no review.
	ratings []int
}

var demoUsers = []string{"alice", "bob", "carol", "dave"}

var demoCatalog = []platformDef{
	{
		name: "Netflix", about: "Subscription streaming service", website: "https://www.netflix.com",
		titles: []titleDef{
			{"Stranger Things", "Kids in 1980s Indiana face the Upside Down", []int{5, 4, 5, 0}},
			{"The Crown", "The reign of Queen Elizabeth II", []int{4, 3, 0, 4}},
		},
	},
	{
		name: "Prime Video", about: "Amazon's streaming service", website: "https://www.primevideo.com",
		titles: []titleDef{
			{"The Boys", "Vigilantes against corrupt superheroes", []int{4, 5, 3, 5}},
			{"Fallout", "Life after the nuclear apocalypse", []int{3, 0, 4, 0}},
		},
	},
	{
		name: "Disney+", about: "Disney, Pixar, Marvel and Star Wars", website: "https://www.disneyplus.com",
		titles: []titleDef{
			{"Andor", "A thief becomes a rebel", []int{5, 5, 4, 4}},
		},
	},
}

type seedStats struct {
	platforms int
	titles    int
	reviews   int
}

type seeder struct {
	platforms  *service.PlatformService
	watchlists *service.WatchlistService
	ledger     *service.RatingLedger
	logger     *slog.Logger
}

func (s seeder) seed(ctx context.Context, catalog []platformDef, users []string) (seedStats, error) {
	var stats seedStats
	for _, pd := range catalog {
		p, err := s.platforms.CreatePlatform(ctx, service.PlatformInput{
			Name: pd.name, About: pd.about, Website: pd.website,
		})
		if err != nil {
			return stats, fmt.Errorf("seed platform %q: %w", pd.name, err)
		}
		stats.platforms++

		for _, td := range pd.titles {
			w, err := s.watchlists.CreateWatchlist(ctx, service.WatchlistInput{
				Title:       td.title,
				Description: td.description,
				PlatformID:  &p.ID,
				Active:      true,
			})
			if err != nil {
				return stats, fmt.Errorf("seed title %q: %w", td.title, err)
			}
			stats.titles++

			for i, rating := range td.ratings {
				if rating == 0 || i >= len(users) {
					continue
				}
				if _, err := s.ledger.SubmitReview(ctx, service.SubmitReviewInput{
					WatchlistID: w.ID,
					UserID:      users[i],
					Username:    users[i],
					Rating:      rating,
				}); err != nil {
					return stats, fmt.Errorf("seed review of %q by %s: %w", td.title, users[i], err)
				}
				stats.reviews++
			}
		}
		s.logger.InfoContext(ctx, "seeded platform", slog.String("name", pd.name))
	}
	return stats, nil
}
