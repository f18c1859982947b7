package kitchen

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/sous/pkg/models"
	"gopkg.in/yaml.v3"
)

// Seed is the YAML fixture format used to populate a MemoryStore. UserID is
// applied to every record that does not name its own owner.
type Seed struct {
	UserID        string                `yaml:"user_id"`
	Pantry        []SeedPantryItem      `yaml:"pantry"`
	Recipes       []models.Recipe       `yaml:"recipes"`
	MealPlans     []SeedMealPlan        `yaml:"meal_plans"`
	ShoppingLists []models.ShoppingList `yaml:"shopping_lists"`
	Profiles      []models.UserProfile  `yaml:"profiles"`
}

// SeedPantryItem allows an expiration relative to load time so fixtures stay
// useful without editing dates.
type SeedPantryItem struct {
	models.PantryItem `yaml:",inline"`
	ExpiresInDays     *int `yaml:"expires_in_days"`
}

// SeedMealPlan marks a plan as covering the current week when CurrentWeek is set.
type SeedMealPlan struct {
	models.MealPlan `yaml:",inline"`
	CurrentWeek     bool `yaml:"current_week"`
}

// LoadSeed reads a YAML seed file into a new MemoryStore.
func LoadSeed(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data, time.Now())
}

// ParseSeed decodes seed YAML, resolving relative dates against now.
func ParseSeed(data []byte, now time.Time) (*MemoryStore, error) {
	var seed Seed
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return seed.Apply(NewMemoryStore(), now)
}

// Apply adds the seed's records to store.
func (s Seed) Apply(store *MemoryStore, now time.Time) (*MemoryStore, error) {
	owner := func(id string) (string, error) {
		if id != "" {
			return id, nil
		}
		if s.UserID == "" {
			return "", fmt.Errorf("seed record has no user_id and no default user_id is set")
		}
		return s.UserID, nil
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for _, seeded := range s.Pantry {
		item := seeded.PantryItem
		var err error
		if item.UserID, err = owner(item.UserID); err != nil {
			return nil, fmt.Errorf("pantry item %q: %w", item.Name, err)
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if seeded.ExpiresInDays != nil {
			exp := now.AddDate(0, 0, *seeded.ExpiresInDays)
			item.ExpirationDate = &exp
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		store.AddPantryItem(item)
	}

	for _, recipe := range s.Recipes {
		var err error
		if recipe.UserID, err = owner(recipe.UserID); err != nil {
			return nil, fmt.Errorf("recipe %q: %w", recipe.Title, err)
		}
		if recipe.ID == "" {
			recipe.ID = uuid.NewString()
		}
		if recipe.CreatedAt.IsZero() {
			recipe.CreatedAt = now
		}
		store.AddRecipe(recipe)
	}

	for _, seeded := range s.MealPlans {
		plan := seeded.MealPlan
		var err error
		if plan.UserID, err = owner(plan.UserID); err != nil {
			return nil, fmt.Errorf("meal plan %q: %w", plan.Name, err)
		}
		if plan.ID == "" {
			plan.ID = uuid.NewString()
		}
		if seeded.CurrentWeek {
			plan.StartDate = today
			plan.EndDate = today.AddDate(0, 0, 6)
		}
		if plan.EndDate.Before(plan.StartDate) {
			return nil, fmt.Errorf("meal plan %q ends before it starts", plan.Name)
		}
		if plan.Entries == nil {
			plan.Entries = []models.MealPlanEntry{}
		}
		if plan.CreatedAt.IsZero() {
			plan.CreatedAt = now
		}
		store.AddMealPlan(plan)
	}

	for _, list := range s.ShoppingLists {
		var err error
		if list.UserID, err = owner(list.UserID); err != nil {
			return nil, fmt.Errorf("shopping list %q: %w", list.ID, err)
		}
		if list.ID == "" {
			list.ID = uuid.NewString()
		}
		if list.Items == nil {
			list.Items = []models.ShoppingListItem{}
		}
		if list.CreatedAt.IsZero() {
			list.CreatedAt = now
		}
		store.AddShoppingList(list)
	}

	for _, profile := range s.Profiles {
		var err error
		if profile.UserID, err = owner(profile.UserID); err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		store.SetProfile(profile)
	}

	return store, nil
}
