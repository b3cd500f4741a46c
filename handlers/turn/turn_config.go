package turn

type TurnConfig struct {
	PersonaPath string   `json:"persona_path"` // Optional YAML persona file; takes precedence over Persona.
	Persona     *Persona `json:"persona,omitempty"`
}

// ResolvePersona returns the configured persona: the file when set, then the
// inline persona, then the default. secret overrides any secret from the file.
func (c TurnConfig) ResolvePersona(secret string) (Persona, error) {
	persona := DefaultPersona()
	switch {
	case c.PersonaPath != "":
		loaded, err := LoadPersona(c.PersonaPath)
		if err != nil {
			return persona, err
		}
		persona = loaded
	case c.Persona != nil:
		persona = mergePersona(persona, *c.Persona)
	}
	if secret != "" {
		persona.Secret = secret
	}
	return persona, persona.Validate()
}

// mergePersona overlays the non-empty fields of override onto base.
func mergePersona(base, override Persona) Persona {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&base.Name, override.Name)
	set(&base.Prompt, override.Prompt)
	set(&base.Secret, override.Secret)
	set(&base.Welcome, override.Welcome)
	set(&base.Help, override.Help)
	set(&base.Cleared, override.Cleared)
	set(&base.Failure, override.Failure)
	set(&base.NoAudio, override.NoAudio)
	set(&base.TextFallback, override.TextFallback)
	return base
}
