package config

import (
	"os"
	"sync"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

// StorageType selects the project file backend at process start.
type StorageType string

const (
	StorageTypeLocal  StorageType = "local"
	StorageTypeObject StorageType = "object"
)

type Config struct {
	// Port Settings
	Host        string `json:"host"`        // The domain name of the server.
	ServerAddr  string `json:"serverAddr"`  // The address the server endpoint binds to.
	MetricsAddr string `json:"metricsAddr"` // The address the metric endpoint binds to.

	SiteName string `json:"siteName"` // Display name used in citations and notifications.

	Auth struct {
		AccessTokenSecret      string `json:"accessTokenSecret"`
		RefreshTokenSecret     string `json:"refreshTokenSecret"`
		AccessTokenExpiryHour  int    `json:"accessTokenExpiryHour"`
		RefreshTokenExpiryHour int    `json:"refreshTokenExpiryHour"`
	} `json:"auth"`

	Postgres struct {
		Host     string `json:"host"`
		Port     string `json:"port"`
		DBName   string `json:"dbname"`
		User     string `json:"user"`
		Password string `json:"password"`
		SSLMode  string `json:"sslmode"`
		TimeZone string `json:"TimeZone"`
	} `json:"postgres"`

	Storage struct {
		Type StorageType `json:"type"` // "local" or "object"
		// Local filesystem roots. MediaRoot holds active/archived and
		// protected published trees; StaticRoot holds open published trees.
		MediaRoot  string `json:"mediaRoot"`
		StaticRoot string `json:"staticRoot"`
		// Object store settings, used when Type == "object".
		Endpoint  string `json:"endpoint"`
		AccessKey string `json:"accessKey"`
		SecretKey string `json:"secretKey"`
		Bucket    string `json:"bucket"`
		UseSSL    bool   `json:"useSSL"`
	} `json:"storage"`

	DataCite struct {
		APIURL   string `json:"apiURL"`
		Prefix   string `json:"prefix"`
		User     string `json:"user"`
		Password string `json:"password"`
	} `json:"datacite"`

	SMTP struct {
		Host   string `json:"host"`
		Port   int    `json:"port"`
		User   string `json:"user"`
		Pass   string `json:"password"`
		From   string `json:"from"`
		Notify string `json:"notify"` // Administrator notification address.
	} `json:"smtp"`

	Flags Flags `json:"flags"`
}

// Flags are the feature switches consumed by the workflow services.
// They are passed explicitly into service constructors instead of being
// read from the global config, so the state machine stays testable.
type Flags struct {
	// Register a DOI automatically when the editor accepts a submission.
	EnableAutoDOI bool `json:"enableAutoDOI"`
	// Allow file downloads from published projects.
	EnableFileDownloads bool `json:"enableFileDownloads"`
	// Make a zip archive of the main files after publication.
	MakeZip bool `json:"makeZip"`
	// Days before an unsubmitted project is archived as timed out.
	SubmissionTimeoutDays int `json:"submissionTimeoutDays"`
	// Days an anonymous access passphrase stays valid after creation.
	AnonymousAccessTTLDays int `json:"anonymousAccessTTLDays"`
}

// DefaultFlags returns the flag values used when the config file leaves
// the flags section empty.
func DefaultFlags() Flags {
	return Flags{
		EnableAutoDOI:          true,
		EnableFileDownloads:    true,
		MakeZip:                true,
		SubmissionTimeoutDays:  180,
		AnonymousAccessTTLDays: 180,
	}
}

var (
	once   sync.Once
	config *Config
)

func GetConfig() *Config {
	once.Do(func() {
		config = initConfig()
	})
	return config
}

func IsDebugMode() bool {
	return gin.Mode() == gin.DebugMode
}

// initConfig reads the configuration file. If the environment is set to
// debug, it reads the debug-config.yaml file, otherwise the config.yaml
// deployed with the service.
func initConfig() *Config {
	config := &Config{}
	var configPath string
	if IsDebugMode() {
		if os.Getenv("PHYSIONET_DEBUG_CONFIG_PATH") != "" {
			configPath = os.Getenv("PHYSIONET_DEBUG_CONFIG_PATH")
		} else {
			configPath = "./etc/debug-config.yaml"
		}
	} else {
		configPath = "/etc/config/config.yaml"
	}
	klog.Info("config path: ", configPath)

	err := readConfig(configPath, config)
	if err != nil {
		klog.Error("init config", err)
		panic(err)
	}
	if config.Flags == (Flags{}) {
		config.Flags = DefaultFlags()
	}
	if config.SiteName == "" {
		config.SiteName = "PhysioNet"
	}
	return config
}

func readConfig(filePath string, config *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return err
	}
	return nil
}
