package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/autosupper/autosupper/internal/bot"
	"github.com/autosupper/autosupper/internal/browser"
	"github.com/autosupper/autosupper/internal/dom"
	"github.com/autosupper/autosupper/internal/driver"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/sensor"
	"github.com/autosupper/autosupper/internal/strategy"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	cp "github.com/otiai10/copy"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath  = "config/autosupper.yaml"
	TemplatePath = "config/template"
)

var (
	cfgMux sync.RWMutex
	Supper *SupperCfg
)

type SupperCfg struct {
	Debug struct {
		Log bool `yaml:"log" env:"AUTOSUPPER_DEBUG"`
	} `yaml:"debug"`
	LogSaveDirectory string `yaml:"logSaveDirectory"`
	Storage          struct {
		Path       string        `yaml:"path" env:"AUTOSUPPER_DB_PATH"`
		SessionTTL time.Duration `yaml:"sessionTTL"`
	} `yaml:"storage"`
	Server struct {
		Port int `yaml:"port" env:"AUTOSUPPER_PORT"`
	} `yaml:"server"`
	Browser browser.Config `yaml:"browser"`
	Reddit  struct {
		Subreddit    string `yaml:"subreddit"`
		ListingURL   string `yaml:"listingURL"`
		Endpoint     string `yaml:"endpoint"`
		PostIDHeader string `yaml:"postIDHeader"`
	} `yaml:"reddit"`
	Selectors struct {
		LoaderScope      dom.Path `yaml:"loaderScope"`
		Loader           dom.Path `yaml:"loader"`
		driver.Selectors `yaml:",inline"`
	} `yaml:"selectors"`
	Labels   strategy.Labels `yaml:"labels"`
	Timeouts struct {
		Machine bot.Timeouts    `yaml:",inline"`
		Driver  driver.Timeouts `yaml:",inline"`
	} `yaml:"timeouts"`
	Automation struct {
		Filters                  mission.Filters `yaml:"filters"`
		mission.AutomationConfig `yaml:",inline"`
		Fullscreen               bool          `yaml:"fullscreen"`
		ClicksPerSecond          float64       `yaml:"clicksPerSecond"`
		ClickDelayMs             int           `yaml:"clickDelayMs"`
		StallThreshold           time.Duration `yaml:"stallThreshold"`
	} `yaml:"automation"`
	Discord struct {
		Enabled               bool     `yaml:"enabled"`
		EnableErrorMessages   bool     `yaml:"enableErrorMessages"`
		EnableIdleMessages    bool     `yaml:"enableIdleMessages"`
		EnableClearedMessages bool     `yaml:"enableClearedMessages"`
		BotAdmins             []string `yaml:"botAdmins"`
		ChannelID             string   `yaml:"channelId"`
		Token                 string   `yaml:"token" env:"AUTOSUPPER_DISCORD_TOKEN"`
		UseWebhook            bool     `yaml:"useWebhook"`
		WebhookURL            string   `yaml:"webhookUrl" env:"AUTOSUPPER_DISCORD_WEBHOOK_URL"`
	} `yaml:"discord"`
	Telegram struct {
		Enabled               bool   `yaml:"enabled"`
		EnableErrorMessages   bool   `yaml:"enableErrorMessages"`
		EnableIdleMessages    bool   `yaml:"enableIdleMessages"`
		EnableClearedMessages bool   `yaml:"enableClearedMessages"`
		ChatID                int64  `yaml:"chatId"`
		Token                 string `yaml:"token" env:"AUTOSUPPER_TELEGRAM_TOKEN"`
	} `yaml:"telegram"`
	Ngrok struct {
		Enabled       bool   `yaml:"enabled"`
		SendURL       bool   `yaml:"sendUrl"`
		Authtoken     string `yaml:"authtoken" env:"NGROK_AUTHTOKEN"`
		Region        string `yaml:"region"`
		Domain        string `yaml:"domain"`
		BasicAuthUser string `yaml:"basicAuthUser"`
		BasicAuthPass string `yaml:"basicAuthPass" env:"AUTOSUPPER_NGROK_BASIC_AUTH_PASS"`
	} `yaml:"ngrok"`
}

// Load reads config/autosupper.yaml relative to the working directory.
func Load() error {
	if _, err := os.Getwd(); err != nil {
		return fmt.Errorf("error getting current working directory: %w", err)
	}
	return LoadFrom(getAbsPath(DefaultPath))
}

// LoadFrom decodes path, overlays .env and process environment variables and
// fills defaults. Supper is only replaced when every step succeeds.
func LoadFrom(path string) error {
	r, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error loading %s: %w", filepath.Base(path), err)
	}
	defer r.Close()

	cfg := &SupperCfg{}
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error reading config %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("error reading environment overrides: %w", err)
	}

	cfg.Validate()
	sanitizeDiscordConfig(cfg)

	cfgMux.Lock()
	Supper = cfg
	cfgMux.Unlock()
	return nil
}

// Get returns a copy of the loaded configuration.
func Get() SupperCfg {
	cfgMux.RLock()
	defer cfgMux.RUnlock()
	if Supper == nil {
		cfg := SupperCfg{}
		cfg.Validate()
		return cfg
	}
	return *Supper
}

// Validate fills every unset value with its default.
func (c *SupperCfg) Validate() {
	if c.LogSaveDirectory == "" {
		c.LogSaveDirectory = "logs"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "autosupper.db"
	}
	if c.Storage.SessionTTL <= 0 {
		c.Storage.SessionTTL = time.Minute
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8087
	}
	if c.Browser.StartURL == "" {
		c.Browser.StartURL = "https://www.reddit.com/r/SwordAndSupperGame/"
	}

	if c.Reddit.Subreddit == "" {
		c.Reddit.Subreddit = "SwordAndSupperGame"
	}
	if c.Reddit.ListingURL == "" {
		c.Reddit.ListingURL = "https://www.reddit.com/r/" + c.Reddit.Subreddit + "/"
	}
	if c.Reddit.Endpoint == "" {
		c.Reddit.Endpoint = "/devvit.reddit.custom_post.v1alpha.CustomPost/RenderPostContent"
	}
	if c.Reddit.PostIDHeader == "" {
		c.Reddit.PostIDHeader = sensor.DefaultPostIDHeader
	}

	c.validateSelectors()

	defLabels := strategy.DefaultLabels()
	setString(&c.Labels.Battle, defLabels.Battle)
	setString(&c.Labels.Accept, defLabels.Accept)
	setString(&c.Labels.Decline, defLabels.Decline)
	setString(&c.Labels.Fight, defLabels.Fight)
	setString(&c.Labels.Skip, defLabels.Skip)
	setString(&c.Labels.Continue, defLabels.Continue)
	setString(&c.Labels.Advance, defLabels.Advance)
	if c.Labels.MinOptionLength <= 0 {
		c.Labels.MinOptionLength = defLabels.MinOptionLength
	}

	defMachine := bot.DefaultTimeouts()
	setDuration(&c.Timeouts.Machine.Navigation, defMachine.Navigation)
	setDuration(&c.Timeouts.Machine.GameLoader, defMachine.GameLoader)
	setDuration(&c.Timeouts.Machine.OpenGame, defMachine.OpenGame)
	setDuration(&c.Timeouts.Machine.GameReady, defMachine.GameReady)
	setDuration(&c.Timeouts.Machine.Query, defMachine.Query)
	defDriver := driver.DefaultTimeouts()
	setDuration(&c.Timeouts.Driver.ClickPollInterval, defDriver.ClickPollInterval)
	setDuration(&c.Timeouts.Driver.ClickPoll, defDriver.ClickPoll)
	setDuration(&c.Timeouts.Driver.Dialog, defDriver.Dialog)
	setDuration(&c.Timeouts.Driver.Ready, defDriver.Ready)
	setDuration(&c.Timeouts.Driver.ScreenPoll, defDriver.ScreenPoll)
	setDuration(&c.Timeouts.Driver.ClickVerify, defDriver.ClickVerify)
	setDuration(&c.Timeouts.Driver.Stall, defDriver.Stall)

	if len(c.Automation.Filters.Stars) == 0 {
		c.Automation.Filters.Stars = []int{1, 2}
	}
	if c.Automation.Filters.MinLevel <= 0 {
		c.Automation.Filters.MinLevel = 1
	}
	if c.Automation.Filters.MaxLevel < c.Automation.Filters.MinLevel {
		c.Automation.Filters.MaxLevel = max(20, c.Automation.Filters.MinLevel)
	}
	switch c.Automation.SkillBargain {
	case mission.PolicyAlways, mission.PolicyNever, mission.PolicyPositiveOnly:
	default:
		c.Automation.SkillBargain = mission.PolicyPositiveOnly
	}
	switch c.Automation.Crossroads {
	case mission.PolicyFight, mission.PolicySkip:
	default:
		c.Automation.Crossroads = mission.PolicyFight
	}
	if c.Automation.ClicksPerSecond < 0 {
		c.Automation.ClicksPerSecond = 0
	}
	if c.Automation.ClickDelayMs <= 0 {
		c.Automation.ClickDelayMs = 350
	}
	if c.Automation.StallThreshold <= 0 {
		c.Automation.StallThreshold = 3 * time.Minute
	}
}

func (c *SupperCfg) validateSelectors() {
	s := &c.Selectors
	setPath(&s.LoaderScope, dom.Path{"shreddit-app"})
	setPath(&s.Loader, dom.Path{"shreddit-devvit-ui-loader"})
	setPath(&s.Preview, dom.Path{"shreddit-devvit-ui-loader", "devvit-preview"})
	setPath(&s.Dialog, dom.Path{"devvit-fullscreen-dialog", "iframe"})
	setPath(&s.Fullscreen, dom.Path{"devvit-fullscreen-dialog", "button.fullscreen"})
	setPath(&s.Ready, dom.Path{"devvit-fullscreen-dialog", "iframe", "#root"})
	setPath(&s.Controls, dom.Path{"devvit-fullscreen-dialog", "iframe", "button"})
	setPath(&s.Victory, dom.Path{"devvit-fullscreen-dialog", "iframe", ".victory"})
	setPath(&s.Combat, dom.Path{"devvit-fullscreen-dialog", "iframe", ".combat"})
	setPath(&s.ResultLog, dom.Path{"devvit-fullscreen-dialog", "iframe", ".log-entry"})
	setPath(&s.Loot, dom.Path{"devvit-fullscreen-dialog", "iframe", ".loot-item"})
}

func setString(v *string, def string) {
	if strings.TrimSpace(*v) == "" {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

func setPath(v *dom.Path, def dom.Path) {
	if len(*v) == 0 {
		*v = def
	}
}

func sanitizeDiscordConfig(cfg *SupperCfg) {
	if !cfg.Discord.Enabled {
		return
	}
	useWebhook := cfg.Discord.UseWebhook
	webhookURL := strings.TrimSpace(cfg.Discord.WebhookURL)
	token := strings.TrimSpace(cfg.Discord.Token)
	channelID := strings.TrimSpace(cfg.Discord.ChannelID)

	if (useWebhook && webhookURL == "") || (!useWebhook && (token == "" || channelID == "")) {
		cfg.Discord.Enabled = false
	}
}

// SupervisorConfig maps the loaded sections onto the bot supervisor.
func (c *SupperCfg) SupervisorConfig() bot.SupervisorConfig {
	return bot.SupervisorConfig{
		Timeouts: c.Timeouts.Machine,
		Driver: driver.Config{
			Selectors:       c.Selectors.Selectors,
			Timeouts:        c.Timeouts.Driver,
			Labels:          c.Labels,
			Automation:      c.Automation.AutomationConfig,
			Fullscreen:      c.Automation.Fullscreen,
			ClicksPerSecond: c.Automation.ClicksPerSecond,
			ClickDelayMs:    c.Automation.ClickDelayMs,
		},
		LoaderScope:    c.Selectors.LoaderScope,
		Loader:         c.Selectors.Loader,
		Endpoint:       c.Reddit.Endpoint,
		PostIDHeader:   c.Reddit.PostIDHeader,
		Subreddit:      c.Reddit.Subreddit,
		ListingURL:     c.Reddit.ListingURL,
		SessionTTL:     c.Storage.SessionTTL,
		StallThreshold: c.Automation.StallThreshold,
	}
}

// Save writes cfg to config/autosupper.yaml and reloads it.
func Save(cfg *SupperCfg) error {
	return SaveTo(getAbsPath(DefaultPath), cfg)
}

func SaveTo(path string, cfg *SupperCfg) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	text, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	if err := os.WriteFile(path, text, 0o644); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}
	return LoadFrom(path)
}

// InitFromTemplate copies the files of the template directory into dst. It
// refuses to overwrite a file that already exists there.
func InitFromTemplate(template, dst string) error {
	if dst == "" {
		return errors.New("destination cannot be empty")
	}
	entries, err := os.ReadDir(template)
	if err != nil {
		return fmt.Errorf("error reading template: %w", err)
	}
	for _, e := range entries {
		target := filepath.Join(dst, e.Name())
		if _, err := os.Stat(target); !os.IsNotExist(err) {
			return fmt.Errorf("%s already exists", target)
		}
	}
	if err := cp.Copy(template, dst); err != nil {
		return fmt.Errorf("error copying template: %w", err)
	}
	return nil
}

func getAbsPath(relPath string) string {
	cwd, err := os.Getwd()
	if err != nil {
		// Load reports the error before any call
		return relPath
	}
	return filepath.Join(cwd, relPath)
}
