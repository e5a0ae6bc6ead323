package processor

import (
	"fmt"

	"github.com/jonesrussell/gogen/internal/agent"
	"github.com/jonesrussell/gogen/internal/configstore"
	"github.com/jonesrussell/gogen/internal/domain"
)

// buildProfile resolves the job's model config and the four agent
// templates into a runnable profile. The job's template name overrides the
// main role only; the other roles always use their standard templates.
func (p *Processor) buildProfile(job *domain.Job) (agent.Profile, error) {
	configName := job.ConfigName
	if configName == "" {
		configName = configstore.DefaultModel
	}
	model, err := p.configs.Model(configName)
	if err != nil {
		return agent.Profile{}, err
	}

	mainTemplate := job.TemplateName
	if mainTemplate == "" {
		mainTemplate = configstore.DefaultTemplate
	}

	var profile agent.Profile
	roles := []struct {
		target   *agent.RoleConfig
		roleType agent.Type
		template string
	}{
		{&profile.Main, agent.TypeMain, mainTemplate},
		{&profile.Fallback, agent.TypeFallback, configstore.TemplateFallbackAgent},
		{&profile.Followup, agent.TypeFollowup, configstore.TemplateFollowupAgent},
		{&profile.Moderation, agent.TypeModeration, configstore.TemplateModerationAgent},
	}
	for _, r := range roles {
		resolved, roleErr := p.resolveRole(r.roleType, r.template, model)
		if roleErr != nil {
			return agent.Profile{}, roleErr
		}
		*r.target = resolved
	}
	return profile, nil
}

// resolveRole merges one template over the job's model config. A template
// may pin its own model (moderation runs on the fast model by default);
// template tuning beats model tuning when set.
func (p *Processor) resolveRole(roleType agent.Type, templateName string, model configstore.ModelConfig) (agent.RoleConfig, error) {
	tpl, err := p.configs.Template(templateName)
	if err != nil {
		return agent.RoleConfig{}, err
	}

	m := model
	if tpl.ModelConfig != "" && tpl.ModelConfig != model.Name {
		if m, err = p.configs.Model(tpl.ModelConfig); err != nil {
			return agent.RoleConfig{}, err
		}
	}

	role := agent.RoleConfig{
		SystemPrompt: tpl.SystemPrompt,
		Model:        m.Model,
		MaxTokens:    m.MaxTokens,
		Temperature:  m.Temperature,
		Timeout:      m.Timeout,
		// One breaker per role and model pair, so a failing main model
		// cannot poison the fallback path.
		Breaker: fmt.Sprintf("%s-%s", roleType, m.Name),
	}
	if tpl.MaxTokens > 0 {
		role.MaxTokens = tpl.MaxTokens
	}
	if tpl.Temperature > 0 {
		role.Temperature = tpl.Temperature
	}
	if tpl.Timeout > 0 {
		role.Timeout = tpl.Timeout
	}
	return role, nil
}
