package kitchen

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/sous/pkg/models"
)

// MemoryStore keeps kitchen data in memory. It backs local runs, the chat
// command and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	pantry        []models.PantryItem
	recipes       []models.Recipe
	mealPlans     []models.MealPlan
	shoppingLists []models.ShoppingList
	profiles      map[string]models.UserProfile
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: map[string]models.UserProfile{}}
}

// AddPantryItem stores a pantry item.
func (m *MemoryStore) AddPantryItem(item models.PantryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pantry = append(m.pantry, item)
}

// AddRecipe stores a recipe.
func (m *MemoryStore) AddRecipe(recipe models.Recipe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipes = append(m.recipes, recipe)
}

// AddMealPlan stores a meal plan.
func (m *MemoryStore) AddMealPlan(plan models.MealPlan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mealPlans = append(m.mealPlans, plan)
}

// AddShoppingList stores a shopping list.
func (m *MemoryStore) AddShoppingList(list models.ShoppingList) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shoppingLists = append(m.shoppingLists, list)
}

// SetProfile stores or replaces a user's profile.
func (m *MemoryStore) SetProfile(profile models.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profile.UserID] = profile
}

func (m *MemoryStore) ListPantryItems(ctx context.Context, userID string) ([]models.PantryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.PantryItem{}
	for _, item := range m.pantry {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) ListExpiringItems(ctx context.Context, userID string, from, to time.Time) ([]models.PantryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.PantryItem{}
	for _, item := range m.pantry {
		if item.UserID != userID || item.ExpirationDate == nil {
			continue
		}
		exp := *item.ExpirationDate
		if exp.Before(from) || exp.After(to) {
			continue
		}
		out = append(out, item)
	}
	sortByExpiration(out)
	return out, nil
}

func (m *MemoryStore) ListRecipes(ctx context.Context, userID string) ([]models.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.Recipe{}
	for _, r := range m.recipes {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetRecipe(ctx context.Context, userID, recipeID string) (*models.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.recipes {
		if r.ID == recipeID && r.UserID == userID {
			recipe := r
			return &recipe, nil
		}
	}
	return nil, fmt.Errorf("recipe %s: %w", recipeID, ErrNotFound)
}

func (m *MemoryStore) CurrentMealPlan(ctx context.Context, userID string, at time.Time) (*models.MealPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var current *models.MealPlan
	for i := range m.mealPlans {
		plan := m.mealPlans[i]
		if plan.UserID != userID || !plan.Covers(at) {
			continue
		}
		if current == nil || plan.CreatedAt.After(current.CreatedAt) {
			current = &plan
		}
	}
	if current == nil {
		return nil, fmt.Errorf("meal plan: %w", ErrNotFound)
	}
	return current, nil
}

func (m *MemoryStore) GetShoppingList(ctx context.Context, userID, mealPlanID string) (*models.ShoppingList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.ShoppingList
	for i := range m.shoppingLists {
		list := m.shoppingLists[i]
		if list.UserID != userID || list.MealPlanID != mealPlanID {
			continue
		}
		if latest == nil || list.CreatedAt.After(latest.CreatedAt) {
			latest = &list
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("shopping list for meal plan %s: %w", mealPlanID, ErrNotFound)
	}
	return latest, nil
}

func (m *MemoryStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return &profile, nil
}
