package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/haasonsaas/sous/internal/kitchen"
	"github.com/haasonsaas/sous/pkg/models"
)

const (
	defaultExpiringDays = 3
	minExpiringDays     = 1
	maxExpiringDays     = 30
)

// NewKitchenRegistry returns a registry holding the seven kitchen tools over
// store. now supplies the reference time for date-relative tools; nil means
// time.Now.
func NewKitchenRegistry(store kitchen.Store, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return NewRegistry().MustRegister(
		&PantryItemsTool{store: store},
		&SearchRecipesTool{store: store},
		&RecipeDetailTool{store: store},
		&CurrentMealPlanTool{store: store, now: now},
		&ShoppingListTool{store: store},
		&UserProfileTool{store: store},
		&ExpiringItemsTool{store: store, now: now},
	)
}

type noInput struct{}

var noInputSchema = SchemaFor(&noInput{})

// PantryItemsTool lists everything in the user's pantry.
type PantryItemsTool struct {
	store kitchen.Store
}

func (t *PantryItemsTool) Name() string { return "get_pantry_items" }

func (t *PantryItemsTool) Description() string {
	return "List every item in the user's pantry, fridge and freezer with quantities and expiration dates."
}

func (t *PantryItemsTool) Schema() json.RawMessage { return noInputSchema }

func (t *PantryItemsTool) Execute(ctx context.Context, userID string, input json.RawMessage) (any, error) {
	items, err := t.store.ListPantryItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"items":      items,
		"totalCount": len(items),
	}, nil
}

type searchRecipesInput struct {
	Query string `json:"query,omitempty" jsonschema:"description=Text to match against recipe title, description or cuisine. Omit to list all saved recipes."`
}

// SearchRecipesTool matches saved recipes by a case-insensitive substring.
type SearchRecipesTool struct {
	store kitchen.Store
}

func (t *SearchRecipesTool) Name() string { return "search_saved_recipes" }

func (t *SearchRecipesTool) Description() string {
	return "Search the user's saved recipes by title, description or cuisine."
}

func (t *SearchRecipesTool) Schema() json.RawMessage { return SchemaFor(&searchRecipesInput{}) }

func (t *SearchRecipesTool) Execute(ctx context.Context, userID string, input json.RawMessage) (any, error) {
	var in searchRecipesInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	recipes, err := t.store.ListRecipes(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Casers carry state and are not shared between calls.
	fold := cases.Fold()
	query := fold.String(strings.TrimSpace(in.Query))

	out := []models.RecipeSummary{}
	for _, recipe := range recipes {
		if query == "" || recipeMatches(fold, recipe, query) {
			out = append(out, recipe.Summary())
		}
	}
	return map[string]any{
		"recipes":    out,
		"totalCount": len(out),
	}, nil
}

func recipeMatches(fold cases.Caser, recipe models.Recipe, query string) bool {
	for _, field := range []string{recipe.Title, recipe.Description, recipe.Cuisine} {
		if strings.Contains(fold.String(field), query) {
			return true
		}
	}
	return false
}

type recipeDetailInput struct {
	RecipeID string `json:"recipeId" jsonschema:"description=ID of the saved recipe"`
}

// RecipeDetailTool returns one recipe with ingredients and instructions.
type RecipeDetailTool struct {
	store kitchen.Store
}

func (t *RecipeDetailTool) Name() string { return "get_recipe_detail" }

func (t *RecipeDetailTool) Description() string {
	return "Get the full ingredients and instructions of a saved recipe."
}

func (t *RecipeDetailTool) Schema() json.RawMessage { return SchemaFor(&recipeDetailInput{}) }

func (t *RecipeDetailTool) Execute(ctx context.Context, userID string, input json.RawMessage) (any, error) {
	var in recipeDetailInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	recipe, err := t.store.GetRecipe(ctx, userID, in.RecipeID)
	if errors.Is(err, kitchen.ErrNotFound) {
		return map[string]string{"error": "Recipe not found"}, nil
	}
	if err != nil {
		return nil, err
	}
	return recipe, nil
}

// CurrentMealPlanTool returns the meal plan covering today.
type CurrentMealPlanTool struct {
	store kitchen.Store
	now   func() time.Time
}

func (t *CurrentMealPlanTool) Name() string { return "get_current_meal_plan" }

func (t *CurrentMealPlanTool) Description() string {
	return "Get the user's active meal plan for the current date range, including planned meals."
}

func (t *CurrentMealPlanTool) Schema() json.RawMessage { return noInputSchema }

func (t *CurrentMealPlanTool) Execute(ctx context.Context, userID string, input json.RawMessage) (any, error) {
	plan, err := t.store.CurrentMealPlan(ctx, userID, t.now())
	if errors.Is(err, kitchen.ErrNotFound) {
		return map[string]string{"message": "No active meal plan found"}, nil
	}
	if err != nil {
		return nil, err
	}
	if plan.Entries == nil {
		plan.Entries = []models.MealPlanEntry{}
	}
	return plan, nil
}

type shoppingListInput struct {
	MealPlanID string `json:"mealPlanId" jsonschema:"description=ID of the meal plan the list was generated from"`
}

// ShoppingListTool returns the shopping list generated for a meal plan.
type ShoppingListTool struct {
	store kitchen.Store
}

func (t *ShoppingListTool) Name() string { return "get_shopping_list" }

func (t *ShoppingListTool) Description() string {
	return "Get the shopping list generated for a meal plan."
}

func (t *ShoppingListTool) Schema() json.RawMessage { return SchemaFor(&shoppingListInput{}) }

func (t *ShoppingListTool) Execute(ctx context.Context, userID string, input json.RawMessage) (any, error) {
	var in shoppingListInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	list, err := t.store.GetShoppingList(ctx, userID, in.MealPlanID)
	if errors.Is(err, kitchen.ErrNotFound) {
		return map[string]string{"message": "No shopping list found for this meal plan"}, nil
	}
	if err != nil {
		return nil, err
	}
	if list.Items == nil {
		list.Items = []models.ShoppingListItem{}
	}
	return list, nil
}

// UserProfileTool returns dietary preferences, allergies and goals. Users who
// never onboarded get an empty profile rather than an error.
type UserProfileTool struct {
	store kitchen.Store
}

func (t *UserProfileTool) Name() string { return "get_user_profile" }

func (t *UserProfileTool) Description() string {
	return "Get the user's dietary preferences, allergies, goals and household size."
}

func (t *UserProfileTool) Schema() json.RawMessage { return noInputSchema }

func (t *UserProfileTool) Execute(ctx context.Context, userID string, input json.RawMessage) (any, error) {
	profile, err := t.store.GetProfile(ctx, userID)
	if errors.Is(err, kitchen.ErrNotFound) {
		profile = &models.UserProfile{UserID: userID}
	} else if err != nil {
		return nil, err
	}
	if profile.DietaryPreferences == nil {
		profile.DietaryPreferences = []string{}
	}
	if profile.Allergies == nil {
		profile.Allergies = []string{}
	}
	if profile.Goals == nil {
		profile.Goals = []string{}
	}
	return profile, nil
}

type expiringItemsInput struct {
	Days *int `json:"days,omitempty" jsonschema:"description=Look-ahead window in days (1 to 30). Defaults to 3."`
}

type expiringItem struct {
	models.PantryItem
	DaysUntilExpiration int `json:"daysUntilExpiration"`
}

// ExpiringItemsTool lists pantry items expiring within a look-ahead window.
type ExpiringItemsTool struct {
	store kitchen.Store
	now   func() time.Time
}

func (t *ExpiringItemsTool) Name() string { return "get_expiring_items" }

func (t *ExpiringItemsTool) Description() string {
	return "List pantry items that expire within the next few days, soonest first."
}

func (t *ExpiringItemsTool) Schema() json.RawMessage { return SchemaFor(&expiringItemsInput{}) }

func (t *ExpiringItemsTool) Execute(ctx context.Context, userID string, input json.RawMessage) (any, error) {
	var in expiringItemsInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	days := defaultExpiringDays
	if in.Days != nil {
		days = clampDays(*in.Days)
	}

	now := t.now()
	items, err := t.store.ListExpiringItems(ctx, userID, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}

	out := make([]expiringItem, 0, len(items))
	for _, item := range items {
		out = append(out, expiringItem{
			PantryItem:          item,
			DaysUntilExpiration: daysBetween(now, *item.ExpirationDate),
		})
	}
	return map[string]any{
		"items":      out,
		"totalCount": len(out),
		"days":       days,
	}, nil
}

func clampDays(days int) int {
	if days < minExpiringDays {
		return minExpiringDays
	}
	if days > maxExpiringDays {
		return maxExpiringDays
	}
	return days
}

// daysBetween counts calendar days from from's date to to's date in from's
// location.
func daysBetween(from, to time.Time) int {
	loc := from.Location()
	y1, m1, d1 := from.Date()
	y2, m2, d2 := to.In(loc).Date()
	start := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	end := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}
