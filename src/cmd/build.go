package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"UberPickups/src/app"
	"UberPickups/src/config"
	"UberPickups/src/datapush"
	"UberPickups/src/dataset"
	"UberPickups/src/datasource/file"
	"UberPickups/src/datasource/remote"
	"UberPickups/src/processor"
	"UberPickups/src/storage"
	"UberPickups/src/utils"
)

// newLoader 按配置创建数据源和加载器
func newLoader(cfg *config.Config, logger *storage.Logger) (*dataset.Loader, error) {
	src, err := remote.New(cfg.Source.URL, remote.Options{
		Transport: remote.TransportOptions{
			InsecureSkipVerify: cfg.Source.InsecureSkipVerify,
			Timeout:            time.Duration(cfg.Source.Timeout),
		},
		S3: remote.S3Options{
			Region:    cfg.Source.S3Region,
			Endpoint:  cfg.Source.S3Endpoint,
			AccessKey: cfg.Source.S3AccessKey,
			SecretKey: cfg.Source.S3SecretKey,
		},
		IMAP: remote.IMAPOptions{
			Password:           cfg.Source.IMAPPassword,
			InsecureSkipVerify: cfg.Source.InsecureSkipVerify,
		},
	})
	if err != nil {
		return nil, err
	}

	format, err := file.ParseFormat(cfg.Source.Format)
	if err != nil {
		return nil, err
	}

	if cfg.Source.InsecureSkipVerify {
		logger.Warning("数据源已关闭证书校验: " + cfg.Source.URL)
	}

	return dataset.NewLoader(src,
		dataset.WithFormat(format),
		dataset.WithSheet(cfg.Source.SheetName),
		dataset.WithColumns(cfg.Columns),
		dataset.WithLogger(logger),
	), nil
}

func sessionOptions(cfg *config.Config) app.SessionOptions {
	return app.SessionOptions{
		DefaultHour: cfg.Server.DefaultHour,
		LatColumn:   cfg.Columns.GetLat(),
		LonColumn:   cfg.Columns.GetLon(),
		Style:       processor.StyleFromConfig(cfg.Map),
	}
}

// selection 加载数据并按小时筛选，hour<0 表示全部
func selection(ctx context.Context, loader *dataset.Loader, rows, hour int) (all, selected *dataset.Table, err error) {
	all, err = loader.Load(ctx, rows)
	if err != nil {
		return nil, nil, err
	}
	if hour < 0 {
		return all, all, nil
	}
	selected, err = processor.FilterHour(all, hour)
	if err != nil {
		return nil, nil, err
	}
	return all, selected, nil
}

// buildReport 组装某一小时的报表，附件为该小时记录的xlsx
func buildReport(ctx context.Context, cfg *config.Config, loader *dataset.Loader, rows, hour int) (datapush.Report, error) {
	all, selected, err := selection(ctx, loader, rows, hour)
	if err != nil {
		return datapush.Report{}, err
	}

	centroid, err := processor.Centroid(selected, cfg.Columns.GetLat(), cfg.Columns.GetLon())
	if err != nil && !errors.Is(err, processor.ErrEmptySelection) {
		return datapush.Report{}, err
	}

	var buf bytes.Buffer
	if err := utils.WriteExcel(selected.Frame(), &buf); err != nil {
		return datapush.Report{}, err
	}

	return datapush.Report{
		Subject:        fmt.Sprintf("%s %d:00", cfg.Report.Subject, hour),
		Hour:           hour,
		Histogram:      processor.HourlyHistogram(all),
		Count:          selected.Nrow(),
		Centroid:       centroid,
		Attachment:     buf.Bytes(),
		AttachmentName: fmt.Sprintf("uber-pickups-%02d.xlsx", hour),
	}, nil
}
