// Package kitchen provides read access to a user's pantry, saved recipes, meal
// plans, shopping lists and profile.
package kitchen

import (
	"context"
	"sort"
	"time"

	"github.com/haasonsaas/sous/internal/storage"
	"github.com/haasonsaas/sous/pkg/models"
)

// ErrNotFound is returned when a record does not exist for the requesting user.
var ErrNotFound = storage.ErrNotFound

// Store is the read-only kitchen data source. Every method is scoped to userID;
// records owned by other users are indistinguishable from missing ones.
type Store interface {
	ListPantryItems(ctx context.Context, userID string) ([]models.PantryItem, error)
	// ListExpiringItems returns pantry items whose expiration falls in [from, to],
	// soonest first.
	ListExpiringItems(ctx context.Context, userID string, from, to time.Time) ([]models.PantryItem, error)
	ListRecipes(ctx context.Context, userID string) ([]models.Recipe, error)
	GetRecipe(ctx context.Context, userID, recipeID string) (*models.Recipe, error)
	// CurrentMealPlan returns the most recently created plan covering at.
	CurrentMealPlan(ctx context.Context, userID string, at time.Time) (*models.MealPlan, error)
	GetShoppingList(ctx context.Context, userID, mealPlanID string) (*models.ShoppingList, error)
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

func sortByExpiration(items []models.PantryItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ExpirationDate.Before(*items[j].ExpirationDate)
	})
}
