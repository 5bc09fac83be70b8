package generate

import "github.com/nebelbild/data-analysis/pkg/model"

// Response schemas handed to the gateway so structured calls come back as
// JSON matching the domain types.

var planSchema = &model.Schema{
	Type: model.TypeObject,
	Properties: map[string]*model.Schema{
		"tasks": {
			Type: model.TypeArray,
			Items: &model.Schema{
				Type: model.TypeObject,
				Properties: map[string]*model.Schema{
					"hypothesis":  {Type: model.TypeString, Description: "The hypothesis this task checks."},
					"purpose":     {Type: model.TypeString, Description: "Why checking it matters for the request."},
					"description": {Type: model.TypeString, Description: "Concrete analysis approach."},
					"chart_type":  {Type: model.TypeString, Description: "Suggested visualization."},
				},
				Required: []string{"hypothesis", "purpose", "description", "chart_type"},
			},
		},
	},
	Required: []string{"tasks"},
}

var programSchema = &model.Schema{
	Type: model.TypeObject,
	Properties: map[string]*model.Schema{
		"code":             {Type: model.TypeString, Description: "Executable Python for one cell."},
		"outline":          {Type: model.TypeString, Description: "What the code does, in prose."},
		"success_criteria": {Type: model.TypeString, Description: "What a successful run should show."},
	},
	Required: []string{"code", "outline", "success_criteria"},
}

var reviewSchema = &model.Schema{
	Type: model.TypeObject,
	Properties: map[string]*model.Schema{
		"observation":  {Type: model.TypeString, Description: "What the execution output shows."},
		"is_completed": {Type: model.TypeBoolean, Description: "Whether the task is genuinely done."},
	},
	Required: []string{"observation", "is_completed"},
}
