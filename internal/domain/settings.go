package domain

type NotificationSettings struct {
	Email         bool `json:"email"`
	Push          bool `json:"push"`
	LowStock      bool `json:"low_stock"`
	HighDemand    bool `json:"high_demand"`
	WeeklyReports bool `json:"weekly_reports"`
}

type AppearanceSettings struct {
	Theme       string `json:"theme" validate:"oneof=light dark"`
	Language    string `json:"language" validate:"oneof=en hi es"`
	CompactMode bool   `json:"compact_mode"`
}

type AccountSettings struct {
	Name  string `json:"name" validate:"max=120"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"max=32"`
}

type PrivacySettings struct {
	ProfileVisible bool `json:"profile_visible"`
	DataCollection bool `json:"data_collection"`
	Analytics      bool `json:"analytics"`
}

type Settings struct {
	Notifications NotificationSettings `json:"notifications"`
	Appearance    AppearanceSettings   `json:"appearance"`
	Account       AccountSettings      `json:"account"`
	Privacy       PrivacySettings      `json:"privacy"`
}

// DefaultSettings returns the settings a user starts with before saving any.
func DefaultSettings(username string, role Role) Settings {
	name := "Admin User"
	email := "admin@pantry.local"
	if role == RoleVendor {
		name = "Vendor User"
		email = "vendor@pantry.local"
	}
	if username != "" && username != string(role) {
		name = username
	}
	return Settings{
		Notifications: NotificationSettings{
			Email:         true,
			Push:          true,
			LowStock:      true,
			HighDemand:    false,
			WeeklyReports: true,
		},
		Appearance: AppearanceSettings{Theme: "light", Language: "en"},
		Account:    AccountSettings{Name: name, Email: email},
		Privacy: PrivacySettings{
			ProfileVisible: true,
			DataCollection: true,
			Analytics:      true,
		},
	}
}

type NotificationPatch struct {
	Email         *bool `json:"email,omitempty"`
	Push          *bool `json:"push,omitempty"`
	LowStock      *bool `json:"low_stock,omitempty"`
	HighDemand    *bool `json:"high_demand,omitempty"`
	WeeklyReports *bool `json:"weekly_reports,omitempty"`
}

type AppearancePatch struct {
	Theme       *string `json:"theme,omitempty"`
	Language    *string `json:"language,omitempty"`
	CompactMode *bool   `json:"compact_mode,omitempty"`
}

type AccountPatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

type PrivacyPatch struct {
	ProfileVisible *bool `json:"profile_visible,omitempty"`
	DataCollection *bool `json:"data_collection,omitempty"`
	Analytics      *bool `json:"analytics,omitempty"`
}

// SettingsPatch carries optional per-category changes. Nil fields are left as they are.
type SettingsPatch struct {
	Notifications *NotificationPatch `json:"notifications,omitempty"`
	Appearance    *AppearancePatch   `json:"appearance,omitempty"`
	Account       *AccountPatch      `json:"account,omitempty"`
	Privacy       *PrivacyPatch      `json:"privacy,omitempty"`
}

func (p SettingsPatch) Apply(s Settings) Settings {
	if n := p.Notifications; n != nil {
		setBool(&s.Notifications.Email, n.Email)
		setBool(&s.Notifications.Push, n.Push)
		setBool(&s.Notifications.LowStock, n.LowStock)
		setBool(&s.Notifications.HighDemand, n.HighDemand)
		setBool(&s.Notifications.WeeklyReports, n.WeeklyReports)
	}
	if a := p.Appearance; a != nil {
		setString(&s.Appearance.Theme, a.Theme)
		setString(&s.Appearance.Language, a.Language)
		setBool(&s.Appearance.CompactMode, a.CompactMode)
	}
	if a := p.Account; a != nil {
		setString(&s.Account.Name, a.Name)
		setString(&s.Account.Email, a.Email)
		setString(&s.Account.Phone, a.Phone)
	}
	if pr := p.Privacy; pr != nil {
		setBool(&s.Privacy.ProfileVisible, pr.ProfileVisible)
		setBool(&s.Privacy.DataCollection, pr.DataCollection)
		setBool(&s.Privacy.Analytics, pr.Analytics)
	}
	return s
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
