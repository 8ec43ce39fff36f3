package cliconfig

// MergeConfig merges source config into target, updating sources tracking.
// A field is applied when it is non-zero in source, or when source marks it
// in SetFields (an explicit false, zero or empty value).
func MergeConfig(target, source *CLIConfig, sourceType string) {
	if source == nil {
		return
	}
	if target.Sources == nil {
		target.Sources = make(map[string]string)
	}

	set := func(key string, nonZero bool, apply func()) {
		if nonZero || source.SetFields[key] {
			apply()
			target.Sources[key] = sourceType
		}
	}

	s := &source.ServerConfig
	t := &target.ServerConfig

	set("host", s.Host != "", func() { t.Host = s.Host })
	set("port", s.Port != 0, func() { t.Port = s.Port })
	set("dataDir", s.DataDir != "", func() { t.DataDir = s.DataDir })
	set("caCert", s.CACert != "", func() { t.CACert = s.CACert })
	set("cert", s.Cert != "", func() { t.Cert = s.Cert })
	set("key", s.Key != "", func() { t.Key = s.Key })
	set("debug", s.Debug, func() { t.Debug = s.Debug })
	set("logLevel", s.LogLevel != "", func() { t.LogLevel = s.LogLevel })
	set("logFormat", s.LogFormat != "", func() { t.LogFormat = s.LogFormat })
	set("metricsAddr", s.MetricsAddr != "", func() { t.MetricsAddr = s.MetricsAddr })
	set("drainTimeout", s.DrainTimeout != 0, func() { t.DrainTimeout = s.DrainTimeout })
	set("readHeaderTimeout", s.ReadHeaderTimeout != 0, func() { t.ReadHeaderTimeout = s.ReadHeaderTimeout })
	set("sharedKey", s.SharedKey != "", func() { t.SharedKey = s.SharedKey })
	set("password", s.Password != "", func() { t.Password = s.Password })
}
